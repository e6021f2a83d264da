package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 30*time.Second, "2h 0m 30s"},
		{72*time.Hour + 30*time.Minute + 15*time.Second, "3d 0h 30m 15s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUptime(tt.in))
		})
	}
}

func TestFormatTime_Invalid(t *testing.T) {
	assert.Equal(t, "yesterday", FormatTime("yesterday"))
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("RFC3339", func(t *testing.T) {
		got, err := ParseSince("2024-01-15T10:00:00Z", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-2*time.Hour), got)
	})

	t.Run("Duration", func(t *testing.T) {
		got, err := ParseSince("15m", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-15*time.Minute), got)
	})

	t.Run("Days", func(t *testing.T) {
		got, err := ParseSince("2d", now)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, -2), got)
	})

	for _, bad := range []string{"", "soon", "-5m", "xd"} {
		t.Run("Invalid/"+bad, func(t *testing.T) {
			_, err := ParseSince(bad, now)
			assert.Error(t, err)
		})
	}
}
