package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/internal/telemetry"
	"github.com/marmos91/netbridge/pkg/bus"
	"github.com/marmos91/netbridge/pkg/dispatcher"
	"github.com/marmos91/netbridge/pkg/factory"
	"github.com/marmos91/netbridge/pkg/prefixstore"
	"github.com/marmos91/netbridge/pkg/protocol"
	"github.com/marmos91/netbridge/pkg/protocol/fs/ftp"
	"github.com/marmos91/netbridge/pkg/protocol/fs/httpfs"
	"github.com/marmos91/netbridge/pkg/protocol/fs/nfs"
	"github.com/marmos91/netbridge/pkg/protocol/fs/s3"
	"github.com/marmos91/netbridge/pkg/protocol/fs/smb"
	"github.com/marmos91/netbridge/pkg/protocol/fs/tnfs"
	"github.com/marmos91/netbridge/pkg/protocol/ssh"
	"github.com/marmos91/netbridge/pkg/protocol/telnet"
)

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Logging.Level, Format: c.Logging.Format, Output: c.Logging.Output}
}

// TelemetryConfig returns the tracing settings for version.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = c.Telemetry.Enabled
	tc.ServiceVersion = version
	tc.Endpoint = c.Telemetry.Endpoint
	tc.Insecure = c.Telemetry.Insecure
	tc.SampleRate = c.Telemetry.SampleRate
	return tc
}

// ProfilingConfig returns the profiling settings for version.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	pc := telemetry.DefaultProfilingConfig()
	pc.Enabled = c.Telemetry.Profiling.Enabled
	pc.ServiceVersion = version
	pc.Endpoint = c.Telemetry.Profiling.Endpoint
	pc.ProfileTypes = c.Telemetry.Profiling.ProfileTypes
	return pc
}

// ProtocolOptions returns the runtime options handed to every protocol.
func (c *Config) ProtocolOptions() protocol.Options {
	opts := protocol.DefaultOptions()
	opts.ConnectTimeout = c.Timeouts.Connect
	opts.ReadTimeout = c.Timeouts.Read
	opts.WriteTimeout = c.Timeouts.Write
	opts.EOL = byte(c.EOL)
	return opts
}

// FactorySettings returns the per-scheme settings for factory.NewDefault.
func (c *Config) FactorySettings() factory.Settings {
	p := c.Protocols
	return factory.Settings{
		Options: c.ProtocolOptions(),
		SDRoot:  p.SD.Root,
		TNFS:    tnfs.Config{Timeout: p.TNFS.Timeout, Retries: p.TNFS.Retries, RetryDelay: p.TNFS.RetryDelay},
		FTP:     ftp.Config{AnonymousPassword: p.FTP.AnonymousPassword, DisableEPSV: p.FTP.DisableEPSV, Timeout: p.FTP.Timeout},
		HTTP: httpfs.Config{
			Timeout:            p.HTTP.Timeout,
			InsecureSkipVerify: p.HTTP.InsecureSkipVerify,
			UserAgent:          p.HTTP.UserAgent,
			EOL:                byte(c.EOL),
		},
		SMB: smb.Config{Domain: p.SMB.Domain, Timeout: p.SMB.Timeout},
		NFS: nfs.Config{
			MountPort:   p.NFS.MountPort,
			NFSPort:     p.NFS.NFSPort,
			UID:         p.NFS.UID,
			GID:         p.NFS.GID,
			MachineName: p.NFS.MachineName,
			Timeout:     p.NFS.Timeout,
		},
		S3: s3.Config{
			Region:          p.S3.Region,
			Endpoint:        p.S3.Endpoint,
			AccessKeyID:     p.S3.AccessKeyID,
			SecretAccessKey: p.S3.SecretAccessKey,
			ForcePathStyle:  p.S3.ForcePathStyle,
		},
		SSH: ssh.Config{
			KnownHostsFile:        p.SSH.KnownHostsFile,
			InsecureIgnoreHostKey: p.SSH.InsecureIgnoreHostKey,
			Term:                  p.SSH.Term,
			Cols:                  p.SSH.Cols,
			Rows:                  p.SSH.Rows,
		},
		Telnet: telnet.Config{TerminalType: p.Telnet.TerminalType},
	}
}

// DispatcherOptions returns the dispatcher options, with store as the
// prefix store when non-nil.
func (c *Config) DispatcherOptions(store prefixstore.Store) []dispatcher.Option {
	opts := []dispatcher.Option{
		dispatcher.WithChannels(c.Channels),
		dispatcher.WithEOL(byte(c.EOL)),
		dispatcher.WithMaxJSONSize(c.MaxJSONSize.Int()),
	}
	if store != nil {
		opts = append(opts, dispatcher.WithPrefixStore(store))
	}
	return opts
}

// BusConfig returns the bus server settings.
func (c *Config) BusConfig() bus.Config {
	return bus.Config{
		Address:         c.Bus.Address,
		MaxConnections:  c.Bus.MaxConnections,
		IdleTimeout:     c.Bus.IdleTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
		MaxPayload:      c.Bus.MaxPayload,
	}
}

// OpenPrefixStore opens the configured prefix store.
func (c *Config) OpenPrefixStore() (prefixstore.Store, error) {
	switch c.PrefixStore.Type {
	case "badger":
		s, err := prefixstore.OpenBadger(c.PrefixStore.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open prefix store: %w", err)
		}
		return s, nil
	default:
		return prefixstore.NewMemory(), nil
	}
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "netbridge Configuration"
	schema.Description = "Configuration schema for the netbridge server"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}
	return out, nil
}
