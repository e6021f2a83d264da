package output

import (
	"strconv"
	"time"

	"github.com/marmos91/netbridge/pkg/channel"
)

// ChannelList renders channel snapshots as a table.
type ChannelList []channel.Snapshot

// Headers implements TableRenderer.
func (l ChannelList) Headers() []string {
	return []string{"Channel", "Open", "Scheme", "Device Spec", "Prefix", "Read", "Written", "Last Error"}
}

// Rows implements TableRenderer.
func (l ChannelList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		open := "-"
		if s.Open {
			open = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(int(s.Channel)),
			open,
			dash(s.Scheme),
			dash(s.DeviceSpec),
			dash(s.Prefix),
			strconv.FormatUint(s.BytesRead, 10),
			strconv.FormatUint(s.BytesWritten, 10),
			dash(s.LastError),
		})
	}
	return rows
}

// WideHeaders implements WideRenderer.
func (l ChannelList) WideHeaders() []string {
	return append(l.Headers(), "Mode", "Login", "Session", "Opened")
}

// WideRows implements WideRenderer.
func (l ChannelList) WideRows() [][]string {
	rows := l.Rows()
	for i, s := range l {
		opened := "-"
		if !s.OpenedAt.IsZero() {
			opened = s.OpenedAt.Local().Format(time.DateTime)
		}
		rows[i] = append(rows[i], dash(s.Mode), dash(s.Login), dash(s.SessionID), opened)
	}
	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
