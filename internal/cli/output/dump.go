package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// PrintListing writes a directory listing received from a channel. Lines
// are split on eol and the listing stops at the trailing
// "FREE SECTORS" line.
func PrintListing(w io.Writer, data []byte, eol byte) error {
	for _, line := range bytes.Split(data, []byte{eol}) {
		if len(line) == 0 {
			continue
		}
		if _, err := fmt.Fprintln(w, string(line)); err != nil {
			return err
		}
		if strings.HasSuffix(string(line), "FREE SECTORS") {
			break
		}
	}
	return nil
}

// PrintDump writes data as a 16-column hex dump with an ASCII gutter.
func PrintDump(w io.Writer, data []byte) error {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		var hex, ascii strings.Builder
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&hex, "%02x ", row[i])
				c := row[i]
				if c < 0x20 || c > 0x7e {
					c = '.'
				}
				ascii.WriteByte(c)
			} else {
				hex.WriteString("   ")
			}
			if i == 7 {
				hex.WriteByte(' ')
			}
		}
		if _, err := fmt.Fprintf(w, "%08x  %s |%s|\n", off, hex.String(), ascii.String()); err != nil {
			return err
		}
	}
	return nil
}
