// Package prometheus implements the metrics interfaces with Prometheus
// collectors registered on metrics.GetRegistry(). Import it for its side
// effect to enable metrics.NewBridgeMetrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/netbridge/pkg/metrics"
)

func init() {
	metrics.RegisterBridgeMetricsConstructor(func() metrics.BridgeMetrics {
		return NewBridgeMetrics()
	})
}

// bridgeMetrics is the Prometheus implementation of metrics.BridgeMetrics.
type bridgeMetrics struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	openChannels     prometheus.Gauge
	busConnections   prometheus.Gauge
}

// NewBridgeMetrics creates a new Prometheus-backed BridgeMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBridgeMetrics() metrics.BridgeMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &bridgeMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "netbridge_commands_total",
				Help: "Total number of bus commands by command, scheme and result",
			},
			[]string{"command", "scheme", "result"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "netbridge_command_duration_milliseconds",
				Help: "Duration of bus commands in milliseconds",
				Buckets: []float64{
					0.1,  // in-memory commands (status, prefix)
					1,    // 1ms
					10,   // 10ms - LAN round trip
					50,   // 50ms
					100,  // 100ms - internet round trip
					500,  // 500ms
					1000, // 1s
					5000, // 5s - default timeout
				},
			},
			[]string{"command", "scheme"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "netbridge_bytes_transferred_total",
				Help: "Total payload bytes moved by read and write commands",
			},
			[]string{"scheme", "direction"},
		),
		openChannels: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "netbridge_open_channels",
				Help: "Current number of channels with a bound protocol",
			},
		),
		busConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "netbridge_bus_connections",
				Help: "Current number of connected bus clients",
			},
		),
	}
}

func (m *bridgeMetrics) RecordCommand(command, scheme, errorCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, scheme, errorCode).Inc()
	m.commandDuration.WithLabelValues(command, scheme).Observe(duration.Seconds() * 1000)
}

func (m *bridgeMetrics) RecordBytes(scheme, direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(scheme, direction).Add(float64(bytes))
}

func (m *bridgeMetrics) SetOpenChannels(count int) {
	if m == nil {
		return
	}
	m.openChannels.Set(float64(count))
}

func (m *bridgeMetrics) RecordConnection(delta int) {
	if m == nil {
		return
	}
	m.busConnections.Add(float64(delta))
}
