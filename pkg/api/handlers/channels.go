package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ChannelHandler serves channel snapshots. Passwords are never exposed.
type ChannelHandler struct {
	channels ChannelSource
}

// NewChannelHandler creates a channel handler.
func NewChannelHandler(channels ChannelSource) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

// List handles GET /api/v1/channels. ?open=true limits the result to
// channels with a bound protocol.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.channels == nil {
		writeJSON(w, http.StatusOK, okResponse([]any{}))
		return
	}

	snaps := h.channels.Snapshots()
	if r.URL.Query().Get("open") == "true" {
		open := snaps[:0]
		for _, s := range snaps {
			if s.Open {
				open = append(open, s)
			}
		}
		snaps = open
	}
	writeJSON(w, http.StatusOK, okResponse(snaps))
}

// Get handles GET /api/v1/channels/{n}.
func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "n"), 10, 8)
	if err != nil {
		BadRequest(w, "Invalid channel number")
		return
	}
	if h.channels == nil {
		NotFound(w, "Channel not found")
		return
	}
	snap, err := h.channels.Snapshot(uint8(n))
	if err != nil {
		NotFound(w, "Channel not found")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(snap))
}
