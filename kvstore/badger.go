package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// keyPrefix namespaces persistence keys inside a shared badger database.
const keyPrefix = "kv/"

// BadgerStore persists values in an embedded BadgerDB database.
type BadgerStore struct {
	db   *badger.DB
	path string
	log  *slog.Logger
}

// BadgerStoreConfig contains configuration for creating a badger store.
type BadgerStoreConfig struct {
	// Path is the directory where BadgerDB keeps its files.
	// Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the database in memory only.
	InMemory bool `mapstructure:"in_memory"`
}

// NewBadgerStore opens (or creates) a badger database.
func NewBadgerStore(cfg BadgerStoreConfig, log *slog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path != "":
		opts = badger.DefaultOptions(cfg.Path)
	default:
		return nil, errors.New("badger store requires a path or in_memory")
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerStore{
		db:   db,
		path: cfg.Path,
		log:  log,
	}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return interfaces.ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("badger read failed: %w", err)
	}
	return value, nil
}

func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), value)
	})
	if err != nil {
		return fmt.Errorf("badger write failed: %w", err)
	}

	s.log.Debug("Stored value in badger",
		slog.String("key", key),
		slog.Int("size", len(value)))
	return nil
}

func (s *BadgerStore) Remove(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil {
		return fmt.Errorf("badger delete failed: %w", err)
	}
	return nil
}

func (s *BadgerStore) Name() string {
	if s.path == "" {
		return "badger-memory"
	}
	return "badger-" + s.path
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
