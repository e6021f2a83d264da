// Package output renders netbridge command results: channel tables, YAML
// and JSON documents, directory listings, hex dumps and bridge status lines.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/marmos91/netbridge/pkg/netstatus"
)

// Format is the value of a command's --output flag.
type Format string

const (
	FormatTable Format = "table"
	FormatWide  Format = "wide" // table with every column
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

var formats = []Format{FormatTable, FormatWide, FormatJSON, FormatYAML}

// ParseFormat maps an --output value to a Format. Empty is table and "yml"
// is YAML.
func ParseFormat(s string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return FormatTable, nil
	case "yml":
		return FormatYAML, nil
	}
	for _, f := range formats {
		if v == string(f) {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid output format: %q (valid: %s)", s, FormatNames())
}

// FormatNames is the flag help list, e.g. "table|wide|json|yaml".
func FormatNames() string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, "|")
}

func (f Format) String() string { return string(f) }

// Structured reports whether f is a machine-readable encoding.
func (f Format) Structured() bool {
	return f == FormatJSON || f == FormatYAML
}

// WideRenderer is a TableRenderer with extra columns for -o wide.
type WideRenderer interface {
	TableRenderer
	WideHeaders() []string
	WideRows() [][]string
}

type wideTable struct{ WideRenderer }

func (w wideTable) Headers() []string { return w.WideHeaders() }
func (w wideTable) Rows() [][]string  { return w.WideRows() }

// Printer writes command results to out in one format.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a printer. color enables ANSI colour on Result and
// Warning lines.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

// ColorFromEnv is false when NO_COLOR is set.
func ColorFromEnv() bool {
	return os.Getenv("NO_COLOR") == ""
}

// Format returns the printer's output format.
func (p *Printer) Format() Format {
	return p.format
}

// Print writes v in the printer's format. For table and wide, v should be a
// TableRenderer; anything else is written as YAML. Wide falls back to the
// narrow table when v has no wide form.
func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatJSON:
		return PrintJSON(p.out, v)
	case FormatYAML:
		return PrintYAML(p.out, v)
	case FormatWide:
		if w, ok := v.(WideRenderer); ok {
			return PrintTable(p.out, wideTable{w})
		}
		fallthrough
	case FormatTable:
		if t, ok := v.(TableRenderer); ok {
			return PrintTable(p.out, t)
		}
		return PrintYAML(p.out, v)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

const (
	ansiRed    = "31"
	ansiGreen  = "32"
	ansiYellow = "33"
)

// Result writes the outcome of a bridge operation as one line:
//
//	label: OK
//	label: EndOfFile (136): read: EndOfFile
//
// EndOfFile is yellow; every other failure is red.
func (p *Printer) Result(label string, err error) {
	if err == nil {
		p.colored(ansiGreen, label+": OK")
		return
	}
	code := netstatus.CodeOf(err)
	color := ansiRed
	if code.Category() == netstatus.CategoryEndOfFile {
		color = ansiYellow
	}
	p.colored(color, fmt.Sprintf("%s: %s (%d): %v", label, code, uint8(code), err))
}

// Warning writes msg in yellow.
func (p *Printer) Warning(msg string) { p.colored(ansiYellow, msg) }

func (p *Printer) colored(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[%sm%s\033[0m\n", code, msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
