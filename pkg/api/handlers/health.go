package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/netbridge/pkg/channel"
)

// ChannelSource is the read-only view of the dispatcher the API needs.
// *dispatcher.Dispatcher implements it.
type ChannelSource interface {
	Channels() int
	OpenChannels() int
	Snapshots() []channel.Snapshot
	Snapshot(n uint8) (channel.Snapshot, error)
}

// HealthHandler handles the liveness endpoint.
type HealthHandler struct {
	channels  ChannelSource
	startTime time.Time
}

// NewHealthHandler creates a health handler. channels may be nil.
func NewHealthHandler(channels ChannelSource) *HealthHandler {
	return &HealthHandler{channels: channels, startTime: time.Now()}
}

// Liveness handles GET /healthz.
//
// Returns 200 OK whenever the HTTP server is responsive, with channel
// counts when a dispatcher is attached.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	data := map[string]any{
		"service":    "netbridge",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}
	if h.channels != nil {
		data["channels"] = h.channels.Channels()
		data["open_channels"] = h.channels.OpenChannels()
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}
