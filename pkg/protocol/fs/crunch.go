package fs

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Crunch folds a file name to an upper-case 8.3 form. Spaces are dropped;
// a base longer than 8 keeps its first 6 characters followed by a two-digit
// hex XOR checksum of the whole base, so distinct long names usually crunch
// to distinct short ones.
func Crunch(name string) string {
	name = strings.ToUpper(strings.ReplaceAll(name, " ", ""))

	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base, ext = name[:dot], name[dot+1:]
	}

	if len(base) > 8 {
		var sum byte
		for i := 0; i < len(base); i++ {
			sum ^= base[i]
		}
		base = fmt.Sprintf("%s%02X", base[:6], sum)
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// tildeAlias parses a "STEM~N.EXT" short name. It returns ok=false for names
// without a numeric tail.
func tildeAlias(name string) (stem string, n int, ext string, ok bool) {
	name = strings.ToUpper(name)
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		name, ext = name[:dot], name[dot+1:]
	}
	i := strings.LastIndexByte(name, '~')
	if i <= 0 || i == len(name)-1 {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil || n <= 0 {
		return "", 0, "", false
	}
	return name[:i], n, ext, true
}

// crunchMatcher decides whether directory entries match a requested name:
// by case-insensitive equality, by equal crunched forms, or as the Nth entry
// sharing a "STEM~N.EXT" alias.
type crunchMatcher struct {
	want    string
	crunch  string
	stem    string
	ordinal int
	ext     string
	alias   bool
	seen    int
}

func newCrunchMatcher(want string) *crunchMatcher {
	m := &crunchMatcher{want: want, crunch: Crunch(want)}
	m.stem, m.ordinal, m.ext, m.alias = tildeAlias(want)
	return m
}

func (m *crunchMatcher) match(name string) bool {
	if strings.EqualFold(name, m.want) || Crunch(name) == m.crunch {
		return true
	}
	if !m.alias {
		return false
	}

	c := strings.ToUpper(strings.ReplaceAll(name, " ", ""))
	ext := ""
	if dot := strings.LastIndexByte(c, '.'); dot >= 0 {
		c, ext = c[:dot], c[dot+1:]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if ext != m.ext || !strings.HasPrefix(c, m.stem) {
		return false
	}
	m.seen++
	return m.seen == m.ordinal
}

// normalizePattern maps the match-everything spellings to "*".
func normalizePattern(p string) string {
	switch p {
	case "", "*", "*.*", "-", "**":
		return "*"
	}
	return p
}

// matchPattern applies a case-insensitive glob to a real name and to its
// crunched form.
func matchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	pattern = strings.ToUpper(pattern)
	if ok, err := path.Match(pattern, strings.ToUpper(name)); err == nil && ok {
		return true
	}
	ok, err := path.Match(pattern, Crunch(name))
	return err == nil && ok
}

// splitPath splits p into its directory (with trailing slash) and file name.
func splitPath(p string) (dir, file string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "/", p
	}
	return p[:i+1], p[i+1:]
}
