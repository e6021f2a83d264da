package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/netbridge/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "debug"

bus:
  address: "127.0.0.1:7000"

channels: 8
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Bus.Address != "127.0.0.1:7000" {
		t.Errorf("Expected bus address from file, got %q", cfg.Bus.Address)
	}
	if cfg.Channels != 8 {
		t.Errorf("Expected 8 channels, got %d", cfg.Channels)
	}
	if cfg.EOL != 0x0D {
		t.Errorf("Expected default EOL 13, got %d", cfg.EOL)
	}
	if cfg.Timeouts.Read != 5*time.Second {
		t.Errorf("Expected default read timeout 5s, got %v", cfg.Timeouts.Read)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Bus.Address != "0.0.0.0:9997" {
		t.Errorf("Expected default bus address, got %q", cfg.Bus.Address)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "logging:\n  level: [unterminated\n")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_ValidationFails(t *testing.T) {
	configPath := writeConfig(t, "channels: 300\n")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for 300 channels")
	}
	if !strings.Contains(err.Error(), "Channels") || !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected error naming Channels max, got: %v", err)
	}
}

func TestLoad_Durations(t *testing.T) {
	configPath := writeConfig(t, `
shutdown_timeout: 2m
bus:
  idle_timeout: 90s
protocols:
  tnfs:
    timeout: 250ms
    retries: 3
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.ShutdownTimeout != 2*time.Minute {
		t.Errorf("Expected 2m, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Bus.IdleTimeout != 90*time.Second {
		t.Errorf("Expected 90s, got %v", cfg.Bus.IdleTimeout)
	}
	if cfg.Protocols.TNFS.Timeout != 250*time.Millisecond || cfg.Protocols.TNFS.Retries != 3 {
		t.Errorf("Unexpected TNFS config: %+v", cfg.Protocols.TNFS)
	}
}

func TestLoad_ByteSizes(t *testing.T) {
	for in, want := range map[string]bytesize.ByteSize{
		`"512KiB"`: 512 * bytesize.KiB,
		`"2MiB"`:   2 * bytesize.MiB,
		"4096":     4096,
	} {
		configPath := writeConfig(t, "max_json_size: "+in+"\n")
		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Failed to load max_json_size %s: %v", in, err)
		}
		if cfg.MaxJSONSize != want {
			t.Errorf("max_json_size %s: expected %d, got %d", in, want, cfg.MaxJSONSize)
		}
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("NETBRIDGE_LOGGING_LEVEL", "ERROR")
	t.Setenv("NETBRIDGE_CHANNELS", "4")

	configPath := writeConfig(t, `
logging:
  level: "INFO"
channels: 16
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Channels != 4 {
		t.Errorf("Expected 4 channels from env var, got %d", cfg.Channels)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Channels = 4
	cfg.Protocols.SD.Root = "/srv/sd"
	cfg.PrefixStore = PrefixStoreConfig{Type: "badger", Path: "/var/lib/netbridge"}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Channels != 4 || loaded.Protocols.SD.Root != "/srv/sd" {
		t.Errorf("Round trip lost values: channels=%d sd=%q", loaded.Channels, loaded.Protocols.SD.Root)
	}
	if loaded.PrefixStore.Type != "badger" || loaded.PrefixStore.Path != "/var/lib/netbridge" {
		t.Errorf("Round trip lost prefix store: %+v", loaded.PrefixStore)
	}
	if loaded.ShutdownTimeout != cfg.ShutdownTimeout {
		t.Errorf("Round trip changed shutdown timeout: %v", loaded.ShutdownTimeout)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := MustLoad(path)
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "netbridge config init") {
		t.Errorf("Expected init hint in error, got: %v", err)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.Join("tmp", "xdg"))

	want := filepath.Join("tmp", "xdg", "netbridge", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if got := GetConfigDir(); got != filepath.Join("tmp", "xdg", "netbridge") {
		t.Errorf("Unexpected config dir %q", got)
	}
}

func TestInitConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	for _, section := range []string{"# netbridge Configuration File", "logging:", "bus:", "protocols:", "prefix_store:"} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	if _, err := InitConfig(false); err == nil {
		t.Error("Expected error when config already exists")
	}
	if _, err := InitConfig(true); err != nil {
		t.Errorf("Expected force to overwrite, got: %v", err)
	}

	if _, err := Load(path); err != nil {
		t.Errorf("Generated config is not loadable: %v", err)
	}
}
