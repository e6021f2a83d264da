// Package health provides shared types for health check responses.
package health

// Response represents the /healthz response structure.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      struct {
		Service      string `json:"service"`
		StartedAt    string `json:"started_at"`
		Uptime       string `json:"uptime"`
		UptimeSec    int64  `json:"uptime_sec"`
		Channels     int    `json:"channels"`
		OpenChannels int    `json:"open_channels"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Healthy reports whether the server answered as healthy.
func (r *Response) Healthy() bool {
	return r.Status == "healthy"
}
