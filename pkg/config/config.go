package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/netbridge/internal/bytesize"
	"github.com/marmos91/netbridge/pkg/api"
)

// Config represents the netbridge configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NETBRIDGE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the admin HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Bus contains the bus front-end listener configuration
	Bus BusConfig `mapstructure:"bus" yaml:"bus"`

	// Channels is the number of network channels
	// Default: 16
	Channels int `mapstructure:"channels" validate:"min=1,max=256" yaml:"channels"`

	// EOL is the host end-of-line byte (155 on Atari, 13 elsewhere)
	// Default: 13
	EOL int `mapstructure:"eol" validate:"min=0,max=255" yaml:"eol"`

	// MaxJSONSize caps the document accepted by the JSON parse command
	// Accepts sizes such as "512KiB" or "1MiB". Default: 1MiB
	MaxJSONSize bytesize.ByteSize `mapstructure:"max_json_size" validate:"min=1" yaml:"max_json_size" jsonschema:"oneof_type=string;integer"`

	// Timeouts are the protocol I/O timeouts
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`

	// PrefixStore controls where per-channel prefixes are persisted
	PrefixStore PrefixStoreConfig `mapstructure:"prefix_store" yaml:"prefix_store"`

	// Protocols holds the per-scheme settings
	Protocols ProtocolsConfig `mapstructure:"protocols" yaml:"protocols"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics. When enabled the metrics are
// served on the admin API at /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// BusConfig configures the bus front-end listener.
type BusConfig struct {
	// Address is the TCP listen address
	// Default: "0.0.0.0:9997"
	Address string `mapstructure:"address" validate:"required,hostname_port" yaml:"address"`

	// MaxConnections limits concurrent bus clients (0 = unlimited)
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// IdleTimeout closes silent connections (0 = never)
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// MaxPayload caps request payloads in bytes
	// Default: 65535
	MaxPayload int `mapstructure:"max_payload" validate:"min=0,max=65535" yaml:"max_payload"`
}

// TimeoutsConfig are the protocol I/O timeouts.
type TimeoutsConfig struct {
	Connect time.Duration `mapstructure:"connect" validate:"gt=0" yaml:"connect"`
	Read    time.Duration `mapstructure:"read" validate:"gt=0" yaml:"read"`
	Write   time.Duration `mapstructure:"write" validate:"gt=0" yaml:"write"`
}

// PrefixStoreConfig selects the prefix persistence backend.
type PrefixStoreConfig struct {
	// Type is "memory" (prefixes are lost on restart) or "badger"
	// Default: "memory"
	Type string `mapstructure:"type" validate:"required,oneof=memory badger" yaml:"type"`

	// Path is the badger directory. Required for type badger.
	Path string `mapstructure:"path" validate:"required_if=Type badger" yaml:"path,omitempty"`
}

// ProtocolsConfig holds the settings of each scheme.
type ProtocolsConfig struct {
	TNFS   TNFSConfig   `mapstructure:"tnfs" yaml:"tnfs"`
	SSH    SSHConfig    `mapstructure:"ssh" yaml:"ssh"`
	Telnet TelnetConfig `mapstructure:"telnet" yaml:"telnet"`
	HTTP   HTTPConfig   `mapstructure:"http" yaml:"http"`
	FTP    FTPConfig    `mapstructure:"ftp" yaml:"ftp"`
	SMB    SMBConfig    `mapstructure:"smb" yaml:"smb"`
	NFS    NFSConfig    `mapstructure:"nfs" yaml:"nfs"`
	S3     S3Config     `mapstructure:"s3" yaml:"s3"`
	SD     SDConfig     `mapstructure:"sd" yaml:"sd"`
}

// TNFSConfig configures the TNFS client.
type TNFSConfig struct {
	// Timeout is the per-datagram reply timeout
	// Default: 1s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Retries is how many times a datagram is retransmitted
	// Default: 5
	Retries int `mapstructure:"retries" validate:"min=0,max=100" yaml:"retries"`

	// RetryDelay is the base backoff after an EAGAIN reply
	// Default: 100ms
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// SSHConfig configures the SSH client.
type SSHConfig struct {
	// KnownHostsFile verifies server host keys. Empty uses ~/.ssh/known_hosts.
	KnownHostsFile string `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`

	// InsecureIgnoreHostKey disables host key verification
	InsecureIgnoreHostKey bool `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`

	// Term is the terminal type requested for the PTY
	// Default: "vt100"
	Term string `mapstructure:"term" yaml:"term"`

	Cols int `mapstructure:"cols" validate:"min=0" yaml:"cols"`
	Rows int `mapstructure:"rows" validate:"min=0" yaml:"rows"`
}

// TelnetConfig configures the telnet client.
type TelnetConfig struct {
	// TerminalType is answered to TERMINAL-TYPE negotiation
	// Default: "dumb"
	TerminalType string `mapstructure:"terminal_type" yaml:"terminal_type"`
}

// HTTPConfig configures HTTP, HTTPS and WebDAV access.
type HTTPConfig struct {
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	UserAgent          string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// FTPConfig configures the FTP client.
type FTPConfig struct {
	// AnonymousPassword is sent when the channel has no login
	AnonymousPassword string        `mapstructure:"anonymous_password" yaml:"anonymous_password"`
	DisableEPSV       bool          `mapstructure:"disable_epsv" yaml:"disable_epsv"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SMBConfig configures the SMB client.
type SMBConfig struct {
	Domain  string        `mapstructure:"domain" yaml:"domain"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NFSConfig configures the NFSv3 client.
type NFSConfig struct {
	// MountPort and NFSPort skip portmapper lookups when set
	MountPort int `mapstructure:"mount_port" validate:"min=0,max=65535" yaml:"mount_port"`
	NFSPort   int `mapstructure:"nfs_port" validate:"min=0,max=65535" yaml:"nfs_port"`

	// UID and GID are sent in AUTH_UNIX credentials
	UID uint32 `mapstructure:"uid" yaml:"uid"`
	GID uint32 `mapstructure:"gid" yaml:"gid"`

	MachineName string        `mapstructure:"machine_name" yaml:"machine_name"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// S3Config configures the S3 backend. Empty credentials use the default
// AWS credential chain.
type S3Config struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// SDConfig configures the local SD scheme.
type SDConfig struct {
	// Root is the host directory served as SD:
	// Default: "$XDG_DATA_HOME/netbridge/sd"
	Root string `mapstructure:"root" validate:"required" yaml:"root"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NETBRIDGE_*)
//  2. Configuration file
//  3. Default values
//
// A missing configuration file is not an error: the defaults are returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, failing with instructions when the file
// does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  netbridge config init\n\n"+
				"Or specify a custom config file:\n"+
				"  netbridge <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  netbridge config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// NETBRIDGE_LOGGING_LEVEL=DEBUG overrides logging.level
	v.SetEnvPrefix("NETBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile returns whether a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings like "30s" and raw nanosecond
// numbers to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir uses XDG_CONFIG_HOME if set, otherwise ~/.config, or the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "netbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "netbridge")
}

func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "netbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "netbridge")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
