package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// BadgerOptionFunc configures a Badger store.
type BadgerOptionFunc func(*Badger)

// WithDataDir sets the data directory. Without one the store is kept in
// memory.
func WithDataDir(dataDir string) BadgerOptionFunc {
	return func(b *Badger) {
		b.dataDir = dataDir
	}
}

// WithLogger sets the logger badger's internal messages go to.
func WithLogger(logger *slog.Logger) BadgerOptionFunc {
	return func(b *Badger) {
		b.logger = logger
	}
}

// WithValueThreshold sets the size above which values move to the
// value log.
func WithValueThreshold(threshold int64) BadgerOptionFunc {
	return func(b *Badger) {
		b.valueThreshold = threshold
	}
}

const defaultValueThreshold = 1 << 10

// Badger is a badger-backed Store.
type Badger struct {
	db             *badger.DB
	logger         *slog.Logger
	dataDir        string
	valueThreshold int64
}

var _ Store = (*Badger)(nil)

// NewBadger opens a badger store.
func NewBadger(opts ...BadgerOptionFunc) (*Badger, error) {
	b := &Badger{
		valueThreshold: defaultValueThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var badgerOpts badger.Options
	if b.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
	} else {
		if _, err := os.Stat(b.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(b.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(b.dataDir, "state")).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(&badgerLogger{logger: b.logger}).
		// INFO is noisy
		WithLoggingLevel(badger.WARNING).
		WithValueThreshold(b.valueThreshold)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	b.db = db
	return b, nil
}

func (b *Badger) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return out, nil
}

func (b *Badger) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Write(batch *Batch) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, o := range batch.ops {
			if o.delete {
				if err := txn.Delete(o.key); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(o.key, o.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger write: %w", err)
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's printf-style logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "store")
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "store")
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...), "component", "store")
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "store")
}
