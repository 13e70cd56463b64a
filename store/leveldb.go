package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a goleveldb-backed Store.
type LevelDB struct {
	db        *leveldb.DB
	batchLock sync.Mutex
	path      string
}

var _ Store = (*LevelDB)(nil)

// OpenLevelDB opens (or creates) a database under dataDir.
func OpenLevelDB(dataDir string) (*LevelDB, error) {
	dbPath := filepath.Join(dataDir, "state")
	options := &opt.Options{
		BlockCacheCapacity:  16 * 1024 * 1024,
		WriteBuffer:         8 * 1024 * 1024,
		CompactionTableSize: 2 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(dbPath, options)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", dbPath, err)
	}
	return &LevelDB{db: db, path: dbPath}, nil
}

// NewMemLevelDB returns a LevelDB kept entirely in memory.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

// Path returns the on-disk location, empty for in-memory databases.
func (l *LevelDB) Path() string { return l.path }

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := l.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return data, nil
}

func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		// Key and Value are only valid until the next call to Next.
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (l *LevelDB) Write(b *Batch) error {
	batch := new(leveldb.Batch)
	for _, o := range b.ops {
		if o.delete {
			batch.Delete(o.key)
		} else {
			batch.Put(o.key, o.value)
		}
	}
	l.batchLock.Lock()
	defer l.batchLock.Unlock()
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb write: %w", err)
	}
	return nil
}

func (l *LevelDB) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
