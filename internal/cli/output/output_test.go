package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netbridge/pkg/channel"
)

func sampleChannels() ChannelList {
	return ChannelList{
		{Channel: 1, Open: true, Scheme: "TNFS", DeviceSpec: "N1:TNFS://host/GAMES/", BytesRead: 512},
		{Channel: 2, Prefix: "N2:SD:/"},
	}
}

// ============================================================================
// Tables
// ============================================================================

func TestPrintTable_Channels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, sampleChannels()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "CHANNEL")
	assert.Contains(t, lines[0], "DEVICE SPEC")
	assert.Contains(t, lines[1], "N1:TNFS://host/GAMES/")
	assert.Contains(t, lines[1], "512")
	assert.Contains(t, lines[2], "N2:SD:/")
}

func TestChannelList_EmptyCellsShowDash(t *testing.T) {
	rows := ChannelList{{Channel: 3}}.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"3", "-", "-", "-", "-", "0", "0", "-"}, rows[0])
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{
		{"Bus address", "0.0.0.0:9997"},
		{"Channels", "16"},
	}))

	out := buf.String()
	assert.Contains(t, out, "Bus address")
	assert.Contains(t, out, "0.0.0.0:9997")
	assert.Contains(t, out, "Channels")
}

// ============================================================================
// Encoders
// ============================================================================

func TestPrintJSON_Snapshot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, channel.Snapshot{Channel: 1, Scheme: "HTTP", BytesWritten: 7}))

	out := buf.String()
	assert.Contains(t, out, `"channel": 1`)
	assert.Contains(t, out, `"scheme": "HTTP"`)
	assert.Contains(t, out, `"bytes_written": 7`)
}

func TestPrintYAML(t *testing.T) {
	data := []struct {
		Channel int    `yaml:"channel"`
		Scheme  string `yaml:"scheme"`
	}{
		{Channel: 1, Scheme: "TNFS"},
		{Channel: 2, Scheme: "SD"},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, data))

	out := buf.String()
	assert.Contains(t, out, "- channel: 1")
	assert.Contains(t, out, "  scheme: SD")
}
