package devicespec

import (
	"fmt"
	"strings"
)

// ApplyPrefix computes the new prefix after a set-prefix command carrying
// spec. prefix is the current value.
//
//   - the spec's own "unit:" is stripped first
//   - ""   clears the prefix
//   - ".." drops the last path segment, never going above the root
//   - "/…" is absolute: on a scheme-qualified prefix it is taken from the
//     host root ("scheme://host/"), otherwise it replaces the prefix
//   - a spec containing ':' is fully qualified and replaces the prefix
//   - anything else is appended as a relative descent
//
// The result is normalised by Canonical. On error the caller keeps the
// current prefix.
func ApplyPrefix(prefix, spec string) (string, error) {
	_, spec = SplitUnit(spec)
	spec = collapseSpaces(stripNonASCII(spec))

	var next string
	switch {
	case spec == "":
		return "", nil
	case spec == "..":
		next = Parent(prefix)
	case strings.HasPrefix(spec, "/"):
		if qualified(prefix) {
			next = Root(prefix) + strings.TrimLeft(spec, "/")
		} else {
			next = spec
		}
	case qualified(spec):
		next = spec
	default:
		next = prefix
		if next != "" && !strings.HasSuffix(next, "/") {
			next += "/"
		}
		next += spec
	}

	next = Canonical(next)
	if len(next) >= MaxLength {
		return prefix, fmt.Errorf("%w: prefix is %d bytes", ErrTooLong, len(next))
	}
	if qualified(next) {
		if u := Parse(next); u.Scheme == "" {
			return prefix, fmt.Errorf("%w: prefix %q", ErrInvalidDeviceSpec, next)
		}
	}
	return next, nil
}

// Root returns the part of p that ".." can never remove:
// "scheme://host/" for URLs, "scheme:/" or "scheme:" for opaque URLs,
// "/" for absolute paths and "" for relative ones.
func Root(p string) string {
	if c := strings.IndexByte(p, ':'); c >= 0 && isScheme(p[:c]) {
		after := p[c+1:]
		if strings.HasPrefix(after, "//") {
			auth := after[2:]
			if slash := strings.IndexByte(auth, '/'); slash >= 0 {
				auth = auth[:slash]
			}
			return p[:c+1] + "//" + auth + "/"
		}
		if strings.HasPrefix(after, "/") {
			return p[:c+1] + "/"
		}
		return p[:c+1]
	}
	if strings.HasPrefix(p, "/") {
		return "/"
	}
	return ""
}

// Parent drops the last path segment of p, clamped at Root(p).
func Parent(p string) string {
	root := Root(p)
	if len(p) <= len(root) {
		return root
	}
	trimmed := strings.TrimSuffix(p, "/")
	i := strings.LastIndexByte(trimmed, '/')
	if i < 0 || i+1 < len(root) {
		return root
	}
	return trimmed[:i+1]
}

// Canonical collapses empty, "." and ".." segments of p below its root and
// keeps a trailing slash on every non-empty result, so the prefix can be
// concatenated directly with a relative name.
func Canonical(p string) string {
	if p == "" {
		return ""
	}
	root := Root(p)
	rest := ""
	if len(p) > len(root) {
		rest = p[len(root):]
	}

	var segs []string
	for _, seg := range strings.Split(rest, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, seg)
		}
	}

	if len(segs) == 0 {
		return root
	}
	return root + strings.Join(segs, "/") + "/"
}
