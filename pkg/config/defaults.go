package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/netbridge/internal/bytesize"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.API.ApplyDefaults()
	applyBusDefaults(&cfg.Bus)
	applyBridgeDefaults(cfg)
	applyTimeoutDefaults(&cfg.Timeouts)
	if cfg.PrefixStore.Type == "" {
		cfg.PrefixStore.Type = "memory"
	}
	applyProtocolDefaults(&cfg.Protocols)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyBusDefaults(cfg *BusConfig) {
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0:9997"
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = 65535
	}
}

func applyBridgeDefaults(cfg *Config) {
	if cfg.Channels == 0 {
		cfg.Channels = 16
	}
	if cfg.EOL == 0 {
		cfg.EOL = int(protocol.DefaultOptions().EOL)
	}
	if cfg.MaxJSONSize == 0 {
		cfg.MaxJSONSize = bytesize.MiB
	}
}

func applyTimeoutDefaults(cfg *TimeoutsConfig) {
	def := protocol.DefaultOptions()
	if cfg.Connect == 0 {
		cfg.Connect = def.ConnectTimeout
	}
	if cfg.Read == 0 {
		cfg.Read = def.ReadTimeout
	}
	if cfg.Write == 0 {
		cfg.Write = def.WriteTimeout
	}
}

func applyProtocolDefaults(cfg *ProtocolsConfig) {
	if cfg.TNFS.Timeout == 0 {
		cfg.TNFS.Timeout = time.Second
	}
	if cfg.TNFS.Retries == 0 {
		cfg.TNFS.Retries = 5
	}
	if cfg.TNFS.RetryDelay == 0 {
		cfg.TNFS.RetryDelay = 100 * time.Millisecond
	}
	if cfg.SSH.Term == "" {
		cfg.SSH.Term = "vt100"
	}
	if cfg.SSH.Cols == 0 {
		cfg.SSH.Cols = 40
	}
	if cfg.SSH.Rows == 0 {
		cfg.SSH.Rows = 24
	}
	if cfg.Telnet.TerminalType == "" {
		cfg.Telnet.TerminalType = "dumb"
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "netbridge"
	}
	if cfg.FTP.AnonymousPassword == "" {
		cfg.FTP.AnonymousPassword = "netbridge@"
	}
	if cfg.NFS.UID == 0 && cfg.NFS.GID == 0 {
		cfg.NFS.UID, cfg.NFS.GID = 65534, 65534
	}
	if cfg.NFS.MachineName == "" {
		cfg.NFS.MachineName = "netbridge"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.SD.Root == "" {
		cfg.SD.Root = filepath.Join(getDataDir(), "sd")
	}
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
