package evidence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// FolderCache remembers folder ids so repeat uploads skip the folder lookup.
// It is an optimization only: a miss or a lost entry costs one extra
// CreateFolderIfAbsent call.
type FolderCache interface {
	Get(key string) (string, bool)
	Set(key, folderID string)
	Delete(key string)
}

// MemoryCache is a FolderCache held in process memory.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]string)}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.m[key]
	return id, ok
}

func (c *MemoryCache) Set(key, folderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = folderID
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// BadgerCache persists folder ids in a Badger key-value store so they survive restarts.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens the cache under dir. An empty dir keeps it in memory.
func OpenBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening folder cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

// Close releases the underlying store.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func (c *BadgerCache) Get(key string) (string, bool) {
	var id []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		id, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Debug("folder cache read failed", "key", key, "err", err)
		}
		return "", false
	}
	return string(id), true
}

func (c *BadgerCache) Set(key, folderID string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(folderID))
	})
	if err != nil {
		slog.Debug("folder cache write failed", "key", key, "err", err)
	}
}

func (c *BadgerCache) Delete(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		slog.Debug("folder cache delete failed", "key", key, "err", err)
	}
}
