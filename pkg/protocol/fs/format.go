package fs

import (
	"fmt"
	"strings"
)

// FreeSectorsSentinel terminates every directory listing.
const FreeSectorsSentinel = "999+FREE SECTORS"

const (
	shortEntryWidth = 17
	longNameWidth   = 30
	maxSectors      = 999
	sectorSize      = 256
)

// FormatShort renders an entry in the DOS-style 8.3 layout:
//
//	col 0      '*' when locked
//	col 2-9    crunched base name
//	col 10-12  extension
//	col 14-16  sector count (3 digits, capped at 999) or "DIR"
func FormatShort(e Entry) string {
	line := []byte(strings.Repeat(" ", shortEntryWidth))

	if e.Locked {
		line[0] = '*'
	}

	name := Crunch(e.Name)
	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base, ext = name[:dot], name[dot+1:]
	}
	copy(line[2:10], base)
	copy(line[10:13], ext)

	if e.IsDir {
		copy(line[14:], "DIR")
	} else {
		copy(line[14:], fmt.Sprintf("%03d", sectors(e.Size)))
	}
	return string(line)
}

// FormatLong renders an entry as its full name (truncated with "..." past
// 30 characters) followed by a right-aligned size or "<DIR>".
func FormatLong(e Entry) string {
	name := e.Name
	if len(name) > longNameWidth {
		name = name[:longNameWidth-3] + "..."
	}
	size := "<DIR>"
	if !e.IsDir {
		size = humanSize(e.Size)
	}
	return fmt.Sprintf("%-*s %6s", longNameWidth, name, size)
}

func sectors(size int64) int64 {
	if size <= 0 {
		return 0
	}
	n := (size + sectorSize - 1) / sectorSize
	if n > maxSectors {
		return maxSectors
	}
	return n
}

func humanSize(size int64) string {
	switch {
	case size < 10000:
		return fmt.Sprintf("%d", size)
	case size < 10000*1024:
		return fmt.Sprintf("%dK", size/1024)
	default:
		return fmt.Sprintf("%dM", size/(1024*1024))
	}
}
