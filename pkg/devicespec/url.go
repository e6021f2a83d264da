package devicespec

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ParsedURL is the result of resolving a devicespec. Scheme keeps the case it
// was written in; Lookup by scheme is case-insensitive.
//
// Components are kept verbatim: retro hosts send literal paths, so no
// percent-decoding is applied.
type ParsedURL struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     string
	Path     string
	Query    string
	Fragment string

	// Raw is the text that was parsed (everything after the unit).
	Raw string
}

// Valid reports whether the URL is usable: a scheme plus a path or a port.
func (u *ParsedURL) Valid() bool {
	return u != nil && u.Scheme != "" && (u.Path != "" || u.Port != "")
}

// UpperScheme returns the scheme in the form used for protocol lookup.
func (u *ParsedURL) UpperScheme() string {
	return strings.ToUpper(u.Scheme)
}

// HostPort joins host and port, using defaultPort when the URL has none.
func (u *ParsedURL) HostPort(defaultPort int) string {
	port := u.Port
	if port == "" {
		port = strconv.Itoa(defaultPort)
	}
	return net.JoinHostPort(u.Host, port)
}

// PortNumber returns the numeric port, or defaultPort when absent or malformed.
func (u *ParsedURL) PortNumber(defaultPort int) int {
	if n, err := strconv.Atoi(u.Port); err == nil && n > 0 && n < 65536 {
		return n
	}
	return defaultPort
}

// Dir returns the directory part of Path including the trailing slash.
func (u *ParsedURL) Dir() string {
	i := strings.LastIndexByte(u.Path, '/')
	if i < 0 {
		return "/"
	}
	return u.Path[:i+1]
}

// Base returns the last path element (empty for paths ending in '/').
func (u *ParsedURL) Base() string {
	return u.Path[strings.LastIndexByte(u.Path, '/')+1:]
}

// QueryValue returns the first value of key in the query string.
func (u *ParsedURL) QueryValue(key string) string {
	if u.Query == "" {
		return ""
	}
	values, err := url.ParseQuery(u.Query)
	if err != nil {
		return ""
	}
	return values.Get(key)
}

// String reassembles the URL, including credentials.
func (u *ParsedURL) String() string {
	return u.format(false)
}

// Redacted reassembles the URL with the password masked. Use it for logs.
func (u *ParsedURL) Redacted() string {
	return u.format(true)
}

func (u *ParsedURL) format(redact bool) string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteByte(':')
	if u.Host != "" || u.User != "" || u.Port != "" {
		b.WriteString("//")
		if u.User != "" {
			b.WriteString(u.User)
			if u.Password != "" {
				b.WriteByte(':')
				if redact {
					b.WriteString("xxxxx")
				} else {
					b.WriteString(u.Password)
				}
			}
			b.WriteByte('@')
		}
		if strings.IndexByte(u.Host, ':') >= 0 {
			b.WriteString("[" + u.Host + "]")
		} else {
			b.WriteString(u.Host)
		}
		if u.Port != "" {
			b.WriteByte(':')
			b.WriteString(u.Port)
		}
	}
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// Parse splits s into URL components. It accepts "scheme://[user[:pass]@]host[:port][/path][?query][#frag]"
// and the opaque form "scheme:path". Parse never fails; callers check Valid.
func Parse(s string) *ParsedURL {
	u := &ParsedURL{Raw: s}

	colon := strings.IndexByte(s, ':')
	if colon <= 0 || !isScheme(s[:colon]) {
		u.Path = s
		u.splitQuery()
		return u
	}
	u.Scheme = s[:colon]
	rest := s[colon+1:]

	if strings.HasPrefix(rest, "//") {
		rest = rest[2:]
		end := strings.IndexAny(rest, "/?#")
		if end < 0 {
			end = len(rest)
		}
		u.parseAuthority(rest[:end])
		rest = rest[end:]
	}

	u.Path = rest
	u.splitQuery()
	return u
}

func (u *ParsedURL) splitQuery() {
	if i := strings.IndexByte(u.Path, '#'); i >= 0 {
		u.Fragment = u.Path[i+1:]
		u.Path = u.Path[:i]
	}
	if i := strings.IndexByte(u.Path, '?'); i >= 0 {
		u.Query = u.Path[i+1:]
		u.Path = u.Path[:i]
	}
}

func (u *ParsedURL) parseAuthority(auth string) {
	if at := strings.LastIndexByte(auth, '@'); at >= 0 {
		info := auth[:at]
		auth = auth[at+1:]
		if c := strings.IndexByte(info, ':'); c >= 0 {
			u.User, u.Password = info[:c], info[c+1:]
		} else {
			u.User = info
		}
	}

	if strings.HasPrefix(auth, "[") {
		if end := strings.IndexByte(auth, ']'); end > 0 {
			u.Host = auth[1:end]
			if rest := auth[end+1:]; strings.HasPrefix(rest, ":") {
				u.Port = rest[1:]
			}
			return
		}
	}

	if c := strings.LastIndexByte(auth, ':'); c >= 0 {
		u.Host, u.Port = auth[:c], auth[c+1:]
		return
	}
	u.Host = auth
}

// isScheme reports whether s is a syntactically valid scheme token.
func isScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return s != ""
}
