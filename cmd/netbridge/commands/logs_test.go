package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExtractTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)

	tests := []struct {
		name string
		line string
		zero bool
	}{
		{name: "JSON", line: `{"time":"2024-01-15T10:30:45.123Z","level":"INFO","msg":"Bus server listening"}`},
		{name: "RFC3339 prefix", line: "2024-01-15T10:30:45.123Z INFO started"},
		{name: "JSON without time", line: `{"level":"INFO"}`, zero: true},
		{name: "garbage", line: "hello", zero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTimestamp(tt.line)
			if tt.zero {
				if !got.IsZero() {
					t.Errorf("Expected zero time, got %v", got)
				}
				return
			}
			if !got.Equal(want) {
				t.Errorf("Expected %v, got %v", want, got)
			}
		})
	}

	text := "[2024-01-15 10:30:45.123] [INFO] Server is running"
	got := extractTimestamp(text)
	local := time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.Local)
	if !got.Equal(local) {
		t.Errorf("Expected %v for text line, got %v", local, got)
	}
}

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netbridge.log")
	content := strings.Join([]string{
		`{"time":"2024-01-15T09:00:00Z","msg":"one"}`,
		`{"time":"2024-01-15T10:00:00Z","msg":"two"}`,
		`{"time":"2024-01-15T11:00:00Z","msg":"three"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}

	var buf bytes.Buffer
	offset, err := tailLines(&buf, path, 2, time.Time{})
	if err != nil {
		t.Fatalf("tailLines failed: %v", err)
	}
	if offset != int64(len(content)) {
		t.Errorf("Expected offset %d, got %d", len(content), offset)
	}
	if got := buf.String(); strings.Contains(got, "one") || !strings.Contains(got, "two") || !strings.Contains(got, "three") {
		t.Errorf("Expected the last two lines, got %q", got)
	}

	buf.Reset()
	since := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if _, err := tailLines(&buf, path, 10, since); err != nil {
		t.Fatalf("tailLines failed: %v", err)
	}
	if got := buf.String(); strings.Contains(got, "two") || !strings.Contains(got, "three") {
		t.Errorf("Expected only lines after --since, got %q", got)
	}
}
