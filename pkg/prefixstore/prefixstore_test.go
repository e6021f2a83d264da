package prefixstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests exercises the Store contract against any implementation.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("EmptyLoad", func(t *testing.T) {
		s := open(t)
		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, 1, "TNFS://host/games/"))
		require.NoError(t, s.Save(ctx, 4, "SD:/"))
		require.NoError(t, s.Save(ctx, 1, "TNFS://host/demos/"))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[uint8]string{1: "TNFS://host/demos/", 4: "SD:/"}, got)
	})

	t.Run("EmptyPrefixDeletes", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, 2, "/x/"))
		require.NoError(t, s.Save(ctx, 2, ""))
		require.NoError(t, s.Save(ctx, 3, ""))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := open(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, s.Save(cctx, 1, "/"))
		_, err := s.Load(cctx)
		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store { return NewMemory() })

	t.Run("LoadReturnsCopy", func(t *testing.T) {
		s := NewMemory()
		require.NoError(t, s.Save(context.Background(), 1, "/a/"))
		got, _ := s.Load(context.Background())
		got[1] = "/b/"
		again, _ := s.Load(context.Background())
		assert.Equal(t, "/a/", again[1])
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := OpenBadger("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		s, err := OpenBadger(dir)
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, 0, "FTP://ftp.example.com/pub/"))
		require.NoError(t, s.Close())

		s, err = OpenBadger(dir)
		require.NoError(t, err)
		defer s.Close()
		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[uint8]string{0: "FTP://ftp.example.com/pub/"}, got)
	})
}
