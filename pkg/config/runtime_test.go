package config

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/netbridge/pkg/prefixstore"
)

func TestFactorySettings(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.EOL = 0x9B
	cfg.Timeouts.Connect = 2 * time.Second
	cfg.Protocols.SD.Root = "/srv/sd"
	cfg.Protocols.S3.Region = "eu-west-1"

	s := cfg.FactorySettings()
	if s.Options.EOL != 0x9B {
		t.Errorf("Expected EOL 0x9B, got %#x", s.Options.EOL)
	}
	if s.HTTP.EOL != 0x9B {
		t.Errorf("Expected HTTP EOL 0x9B, got %#x", s.HTTP.EOL)
	}
	if s.Options.ConnectTimeout != 2*time.Second {
		t.Errorf("Expected connect timeout 2s, got %v", s.Options.ConnectTimeout)
	}
	if s.SDRoot != "/srv/sd" || s.S3.Region != "eu-west-1" {
		t.Errorf("Unexpected settings: sd=%q region=%q", s.SDRoot, s.S3.Region)
	}
	if s.SSH.Term != "vt100" || s.Telnet.TerminalType != "dumb" {
		t.Errorf("Unexpected terminal defaults: %q %q", s.SSH.Term, s.Telnet.TerminalType)
	}
}

func TestBusConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ShutdownTimeout = 3 * time.Second

	bc := cfg.BusConfig()
	if bc.Address != "0.0.0.0:9997" || bc.MaxPayload != 65535 {
		t.Errorf("Unexpected bus config: %+v", bc)
	}
	if bc.ShutdownTimeout != 3*time.Second {
		t.Errorf("Expected shutdown timeout 3s, got %v", bc.ShutdownTimeout)
	}
}

func TestOpenPrefixStore(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		cfg := GetDefaultConfig()
		s, err := cfg.OpenPrefixStore()
		if err != nil {
			t.Fatalf("OpenPrefixStore failed: %v", err)
		}
		defer s.Close()
		if _, ok := s.(*prefixstore.MemoryStore); !ok {
			t.Errorf("Expected memory store, got %T", s)
		}
	})

	t.Run("Badger", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.PrefixStore = PrefixStoreConfig{Type: "badger", Path: filepath.Join(t.TempDir(), "prefixes")}

		s, err := cfg.OpenPrefixStore()
		if err != nil {
			t.Fatalf("OpenPrefixStore failed: %v", err)
		}
		defer s.Close()

		if err := s.Save(context.Background(), 1, "TNFS://host/"); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got[1] != "TNFS://host/" {
			t.Errorf("Expected stored prefix, got %v", got)
		}
	})
}

func TestSchema(t *testing.T) {
	out, err := Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("Schema is not JSON: %v", err)
	}
	if doc["title"] != "netbridge Configuration" {
		t.Errorf("Unexpected title %v", doc["title"])
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatal("Schema has no properties")
	}
	for _, key := range []string{"logging", "bus", "channels", "protocols", "prefix_store"} {
		if _, ok := props[key]; !ok {
			t.Errorf("Schema missing property %q", key)
		}
	}
}
