// Package metrics holds the optional observability interfaces of the
// bridge. Every interface is optional: pass nil to disable collection with
// zero overhead. The Prometheus implementations live in
// pkg/metrics/prometheus and register themselves on import.
package metrics

import (
	"time"
)

// BridgeMetrics provides observability for dispatcher commands.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	d := dispatcher.New(f, dispatcher.WithMetrics(metrics.NewBridgeMetrics()))
//
//	// Without metrics (nil, zero overhead)
//	d := dispatcher.New(f)
type BridgeMetrics interface {
	// RecordCommand records a completed command.
	//
	// Parameters:
	//   - command: command name ("open", "read", "special:0x20", ...)
	//   - scheme: scheme of the bound protocol, empty when unbound
	//   - errorCode: result code name ("Success", "EndOfFile", ...)
	//   - duration: time taken to process the command
	RecordCommand(command, scheme, errorCode string, duration time.Duration)

	// RecordBytes records payload bytes moved by read and write commands.
	//
	// Parameters:
	//   - scheme: scheme of the bound protocol
	//   - direction: "read" or "write"
	//   - bytes: number of bytes transferred
	RecordBytes(scheme, direction string, bytes int)

	// SetOpenChannels updates the number of channels with a bound protocol.
	SetOpenChannels(count int)

	// RecordConnection records a bus client connecting (delta 1) or
	// disconnecting (delta -1).
	RecordConnection(delta int)
}

// NewBridgeMetrics creates the Prometheus-backed BridgeMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called) or no
// implementation has been registered.
func NewBridgeMetrics() BridgeMetrics {
	if !IsEnabled() || newPrometheusBridgeMetrics == nil {
		return nil
	}
	return newPrometheusBridgeMetrics()
}

// newPrometheusBridgeMetrics is set by pkg/metrics/prometheus.
// The indirection keeps this package free of implementation imports.
var newPrometheusBridgeMetrics func() BridgeMetrics

// RegisterBridgeMetricsConstructor registers the Prometheus constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterBridgeMetricsConstructor(constructor func() BridgeMetrics) {
	newPrometheusBridgeMetrics = constructor
}

// RecordCommand records a command on m. m may be nil.
func RecordCommand(m BridgeMetrics, command, scheme, errorCode string, duration time.Duration) {
	if m != nil {
		m.RecordCommand(command, scheme, errorCode, duration)
	}
}

// RecordBytes records transferred bytes on m. m may be nil.
func RecordBytes(m BridgeMetrics, scheme, direction string, bytes int) {
	if m != nil && bytes > 0 {
		m.RecordBytes(scheme, direction, bytes)
	}
}

// SetOpenChannels updates the open channel gauge on m. m may be nil.
func SetOpenChannels(m BridgeMetrics, count int) {
	if m != nil {
		m.SetOpenChannels(count)
	}
}

// RecordConnection records a bus connection change on m. m may be nil.
func RecordConnection(m BridgeMetrics, delta int) {
	if m != nil {
		m.RecordConnection(delta)
	}
}
