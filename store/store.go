// Package store provides the key/value backends committed ledger state
// is persisted to. Every backend applies a Batch atomically.
package store

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: key not found")

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBadger  = "badger"
)

// Store is a persistent key/value store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls fn for every key with the given prefix in key
	// order. Returning an error from fn stops the iteration.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	// Write applies the batch atomically.
	Write(b *Batch) error
	Close() error
}

type op struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes applied together by Store.Write.
type Batch struct {
	ops []op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put queues key=value.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, op{key: key, value: value})
}

// Delete queues removal of key.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, op{key: key, delete: true})
}

// Len returns the number of queued writes.
func (b *Batch) Len() int { return len(b.ops) }

// Open opens the named backend. An empty dataDir keeps the data in
// memory for backends that support it.
func Open(backend, dataDir string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemLevelDB()
	case BackendLevelDB:
		if dataDir == "" {
			return NewMemLevelDB()
		}
		return OpenLevelDB(dataDir)
	case BackendBadger:
		return NewBadger(
			WithDataDir(dataDir),
			WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
