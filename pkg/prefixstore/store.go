// Package prefixstore persists the per-channel prefix ("current directory")
// so it survives a restart of the bridge.
package prefixstore

import (
	"context"
	"sync"
)

// Store persists channel prefixes.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	// Load returns every stored prefix by channel number.
	Load(ctx context.Context) (map[uint8]string, error)

	// Save stores prefix for channel. An empty prefix deletes the entry.
	Save(ctx context.Context, channel uint8, prefix string) error

	// Close releases the store.
	Close() error
}

// MemoryStore keeps prefixes in a map. Nothing survives the process.
type MemoryStore struct {
	mu       sync.RWMutex
	prefixes map[uint8]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{prefixes: make(map[uint8]string)}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context) (map[uint8]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint8]string, len(s.prefixes))
	for k, v := range s.prefixes {
		out[k] = v
	}
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, channel uint8, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prefix == "" {
		delete(s.prefixes, channel)
	} else {
		s.prefixes[channel] = prefix
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
