// Package devicespec turns the devicespec strings a bus sends ("N:TNFS://host/path")
// into URLs, and maintains the per-channel prefix ("current directory") that
// relative devicespecs are resolved against.
package devicespec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// MaxLength is the historical cap on devicespec and prefix payloads.
const MaxLength = 256

// DirectoryMode is the aux1 open mode that requests a directory listing.
// Wildcards are only meaningful for this mode.
const DirectoryMode = 6

var (
	// ErrInvalidDeviceSpec is returned when a devicespec does not resolve
	// to a usable URL.
	ErrInvalidDeviceSpec = errors.New("devicespec: invalid device spec")

	// ErrTooLong is returned when a resolved devicespec or prefix exceeds MaxLength.
	ErrTooLong = errors.New("devicespec: too long")
)

// Resolved is the result of resolving a devicespec against a prefix.
type Resolved struct {
	// Unit is the device token including its colon ("N:", "N2:"), or empty.
	Unit string
	// Spec is the assembled, sanitised devicespec (unit + prefix + rest).
	Spec string
	// URL is the parsed URL. It is non-nil even when invalid.
	URL *ParsedURL
}

// Resolve turns (prefix, spec, aux1) into a URL:
//
//  1. split spec at the first ':' into unit and rest
//  2. rest is prefixed by prefix unless rest is itself scheme-qualified
//  3. non-ASCII bytes are dropped
//  4. unless aux1 requests a directory listing, the string ends at the first '*'
//  5. one trailing '.' is trimmed
//  6. surrounding spaces are trimmed and inner runs collapse to one space
//  7. everything after the unit is parsed as a URL
//  8. the URL is valid iff it has a scheme and a path or a port
//
// Resolve is pure: the same inputs always yield the same result. An invalid
// result is reported as ErrInvalidDeviceSpec with the Resolved still filled in.
func Resolve(prefix, spec string, aux1 byte) (Resolved, error) {
	unit, rest := SplitUnit(spec)

	body := rest
	if prefix != "" && !qualified(rest) {
		body = prefix + rest
	}

	body = stripNonASCII(body)
	if aux1 != DirectoryMode {
		if i := strings.IndexByte(body, '*'); i >= 0 {
			body = body[:i]
		}
	}
	body = strings.TrimSuffix(body, ".")
	body = collapseSpaces(body)

	r := Resolved{Unit: unit, Spec: unit + body, URL: Parse(body)}
	if len(r.Spec) > MaxLength {
		return r, fmt.Errorf("%w: %d bytes", ErrTooLong, len(r.Spec))
	}
	if !r.URL.Valid() {
		return r, fmt.Errorf("%w: %q", ErrInvalidDeviceSpec, r.Spec)
	}
	return r, nil
}

// SplitUnit splits "N1:rest" into ("N1:", "rest"). A spec with no colon has
// no unit. Only a leading device token (a letter and an optional digit) is
// treated as a unit, so "TNFS://host/" is returned whole.
func SplitUnit(spec string) (unit, rest string) {
	i := strings.IndexByte(spec, ':')
	if i < 0 || !isUnit(spec[:i]) {
		return "", spec
	}
	return spec[:i+1], spec[i+1:]
}

func isUnit(s string) bool {
	switch len(s) {
	case 1:
		return isLetter(s[0])
	case 2:
		return isLetter(s[0]) && s[1] >= '0' && s[1] <= '9'
	}
	return false
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// qualified reports whether s carries its own scheme, in which case no
// prefix is applied.
func qualified(s string) bool {
	return strings.IndexByte(s, ':') >= 0
}

// FromPayload extracts a devicespec string from a command payload: it stops
// at the first NUL or end-of-line byte and is capped at MaxLength.
func FromPayload(b []byte) string {
	if len(b) > MaxLength {
		b = b[:MaxLength]
	}
	if i := bytes.IndexAny(b, "\x00\r\n\x9b"); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func stripNonASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			b := make([]byte, 0, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] <= 0x7F {
					b = append(b, s[j])
				}
			}
			return string(b)
		}
	}
	return s
}

func collapseSpaces(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "  ") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
