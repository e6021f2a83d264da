package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/netbridge/pkg/channel"
)

type fakeChannels struct {
	snaps []channel.Snapshot
}

func (f *fakeChannels) Channels() int { return len(f.snaps) }

func (f *fakeChannels) OpenChannels() int {
	n := 0
	for _, s := range f.snaps {
		if s.Open {
			n++
		}
	}
	return n
}

func (f *fakeChannels) Snapshots() []channel.Snapshot {
	return append([]channel.Snapshot(nil), f.snaps...)
}

func (f *fakeChannels) Snapshot(n uint8) (channel.Snapshot, error) {
	if int(n) >= len(f.snaps) {
		return channel.Snapshot{}, errors.New("no such channel")
	}
	return f.snaps[n], nil
}

func newFake() *fakeChannels {
	return &fakeChannels{snaps: []channel.Snapshot{
		{Channel: 0, Mode: "protocol", LastError: "Success"},
		{Channel: 1, Open: true, Scheme: "TNFS", DeviceSpec: "N:TNFS://host/", Mode: "protocol", LastError: "Success"},
	}}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(newFake())
	w := httptest.NewRecorder()

	handler.Liveness(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode(t, w)
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "netbridge" {
		t.Errorf("Expected service 'netbridge', got '%v'", data["service"])
	}
	if data["open_channels"] != float64(1) {
		t.Errorf("Expected 1 open channel, got %v", data["open_channels"])
	}
	if _, ok := data["started_at"].(string); !ok {
		t.Errorf("Expected started_at string, got %v", data["started_at"])
	}
	if _, ok := data["uptime"].(string); !ok {
		t.Errorf("Expected uptime string, got %v", data["uptime"])
	}
}

func TestLiveness_NoDispatcher(t *testing.T) {
	handler := NewHealthHandler(nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	data := decode(t, w).Data.(map[string]any)
	if _, ok := data["channels"]; ok {
		t.Errorf("Expected no channel count without a dispatcher")
	}
}

func TestChannels_List(t *testing.T) {
	handler := NewChannelHandler(newFake())

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/api/v1/channels", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := len(decode(t, w).Data.([]any)); got != 2 {
		t.Errorf("Expected 2 channels, got %d", got)
	}

	w = httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/api/v1/channels?open=true", nil))
	list := decode(t, w).Data.([]any)
	if len(list) != 1 {
		t.Fatalf("Expected 1 open channel, got %d", len(list))
	}
	if scheme := list[0].(map[string]any)["scheme"]; scheme != "TNFS" {
		t.Errorf("Expected scheme 'TNFS', got '%v'", scheme)
	}
}

func TestChannels_Get(t *testing.T) {
	handler := NewChannelHandler(newFake())

	tests := []struct {
		param  string
		status int
	}{
		{"1", http.StatusOK},
		{"7", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
		{"300", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.Get(w, withParam(httptest.NewRequest("GET", "/api/v1/channels/"+tt.param, nil), "n", tt.param))
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestChannels_SnapshotHasNoPassword(t *testing.T) {
	handler := NewChannelHandler(newFake())
	w := httptest.NewRecorder()
	handler.Get(w, withParam(httptest.NewRequest("GET", "/api/v1/channels/1", nil), "n", "1"))

	data := decode(t, w).Data.(map[string]any)
	if _, ok := data["password"]; ok {
		t.Error("Snapshot must not expose the password")
	}
}
