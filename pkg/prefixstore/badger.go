package prefixstore

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces prefix entries: "prefix:" + channel byte.
const keyPrefix = "prefix:"

func keyChannel(ch uint8) []byte {
	return append([]byte(keyPrefix), ch)
}

// BadgerStore keeps prefixes in a BadgerDB database.
type BadgerStore struct {
	db *badgerdb.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (creating if needed) the database at path. An empty
// path opens an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open prefix store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context) (map[uint8]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[uint8]string)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefix)+1 {
				continue // foreign key under our namespace
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[key[len(prefix)]] = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load prefixes: %w", err)
	}
	return out, nil
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, channel uint8, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if prefix == "" {
			err := txn.Delete(keyChannel(channel))
			if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return fmt.Errorf("failed to delete prefix: %w", err)
			}
			return nil
		}
		if err := txn.Set(keyChannel(channel), []byte(prefix)); err != nil {
			return fmt.Errorf("failed to store prefix: %w", err)
		}
		return nil
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
