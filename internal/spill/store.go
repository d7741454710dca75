// Package spill keeps the per-node example indexes of trees that left the
// split-search window in a badger database, so that only the trees still
// being grown hold their indexes in memory.
package spill

import (
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

// Config controls where the store lives.
type Config struct {
	// Dir is the database directory. Empty with InMemory false means a
	// fresh temporary directory that is removed on Close.
	Dir string
	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool
	// Namespace prefixes every key. Empty means a new uuid.
	Namespace string
}

// BadgerStore implements the index store of the training engine on top of
// badger/v4.
type BadgerStore struct {
	db        *badger.DB
	namespace []byte
	tempDir   string
	logger    log.Logger
}

// Open creates or opens the store described by cfg.
func Open(cfg Config) (*BadgerStore, error) {
	s := &BadgerStore{logger: log.GetLoggerWithName("spill")}
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Dir == "":
		dir, err := os.MkdirTemp("", "rgf-spill-")
		if err != nil {
			return nil, errors.Wrap(err, "spill: create temp dir")
		}
		s.tempDir = dir
		opts = badger.DefaultOptions(dir)
	default:
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, errors.Wrapf(err, "spill: create %s", cfg.Dir)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil).WithSyncWrites(false).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		s.removeTemp()
		return nil, errors.Wrap(err, "spill: open badger")
	}
	s.db = db
	ns := cfg.Namespace
	if ns == "" {
		ns = uuid.NewString()
	}
	s.namespace = []byte(ns + "/")
	s.logger.Debug("Spill store opened", log.PathKey, cfg.Dir, log.RunIDKey, ns)
	return s, nil
}

// Namespace returns the key prefix of this store, without the separator.
func (s *BadgerStore) Namespace() string {
	return string(s.namespace[:len(s.namespace)-1])
}

func (s *BadgerStore) key(k string) []byte {
	out := make([]byte, 0, len(s.namespace)+len(k))
	out = append(out, s.namespace...)
	return append(out, k...)
}

// Put stores value under key, replacing any previous value.
func (s *BadgerStore) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), value)
	})
	if err != nil {
		return errors.Wrapf(err, "spill: put %s", key)
	}
	return nil
}

// Get returns a copy of the value stored under key.
func (s *BadgerStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "spill: %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "spill: get %s", key)
	}
	return out, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return errors.Wrapf(err, "spill: delete %s", key)
	}
	return nil
}

// Close drops every key of the namespace and closes the database. A
// temporary directory created by Open is removed.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	dropErr := s.db.DropPrefix(s.namespace)
	closeErr := s.db.Close()
	s.db = nil
	s.removeTemp()
	if dropErr != nil {
		return errors.Wrap(dropErr, "spill: drop namespace")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "spill: close")
	}
	return nil
}

func (s *BadgerStore) removeTemp() {
	if s.tempDir == "" {
		return
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		s.logger.Warn("Failed to remove spill directory", err, log.PathKey, s.tempDir)
	}
	s.tempDir = ""
}

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("spill: key not found")
