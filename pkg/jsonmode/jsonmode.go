// Package jsonmode implements the JSON channel mode: the data a protocol
// returns is parsed once, then queried by path, and each query result is
// served to the bus as plain text.
package jsonmode

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/marmos91/netbridge/pkg/netstatus"
)

// Document is a parsed JSON document.
type Document struct {
	data []byte
	kind jsonparser.ValueType
}

// Parse validates data and returns a queryable document. Leading and
// trailing whitespace and NUL padding are ignored.
func Parse(data []byte) (*Document, error) {
	data = bytes.Trim(data, " \t\r\n\x00")
	if len(data) == 0 || !json.Valid(data) {
		return nil, netstatus.New(netstatus.CouldNotParseJSON, "json parse")
	}
	value, kind, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, netstatus.Wrap(netstatus.CouldNotParseJSON, "json parse", err)
	}
	return &Document{data: value, kind: kind}, nil
}

// Len returns the size of the document in bytes.
func (d *Document) Len() int {
	return len(d.data)
}

// Query walks path ("/results/0/name") and renders the value it names.
// Numeric segments index arrays; on objects they are plain keys.
// An empty path renders the whole document.
func (d *Document) Query(path string) ([]byte, error) {
	cur, kind := d.data, d.kind

	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		key := seg
		if kind == jsonparser.Array {
			if _, err := strconv.Atoi(seg); err == nil {
				key = "[" + seg + "]"
			}
		}

		value, vt, _, err := jsonparser.Get(cur, key)
		if err != nil {
			return nil, netstatus.Wrap(netstatus.CouldNotParseJSON, "json query", err)
		}
		cur, kind = value, vt
	}

	return render(cur, kind)
}

func render(value []byte, kind jsonparser.ValueType) ([]byte, error) {
	switch kind {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, netstatus.Wrap(netstatus.CouldNotParseJSON, "json query", err)
		}
		return []byte(s), nil
	case jsonparser.Number:
		return append([]byte(nil), value...), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return nil, netstatus.Wrap(netstatus.CouldNotParseJSON, "json query", err)
		}
		if b {
			return []byte("TRUE"), nil
		}
		return []byte("FALSE"), nil
	case jsonparser.Null:
		return []byte("NULL"), nil
	case jsonparser.Object, jsonparser.Array:
		var buf bytes.Buffer
		if err := json.Compact(&buf, value); err != nil {
			return nil, netstatus.Wrap(netstatus.CouldNotParseJSON, "json query", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, netstatus.New(netstatus.CouldNotParseJSON, "json query")
	}
}
