package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

const (
	// Cache settings
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 5 * time.Minute

	// BadgerDB settings
	DefaultGCInterval = 10 * time.Minute
	ValueLogFileSize  = 256 << 20 // 256MB
	NumCompactors     = 2
	NumMemtables      = 3
)

var (
	ErrKeyNotFound    = badger.ErrKeyNotFound
	ErrDatabaseClosed = types.ErrDatabaseClosed
	ErrNoTransaction  = types.ErrNoTransaction
	ErrTxnInProgress  = types.ErrTxnInProgress
	ErrInvalidKey     = errors.New("invalid key")
)

// DB wraps BadgerDB with caching and an explicit transaction used by the
// chain state to make reorganizations all-or-nothing. At most one
// explicit transaction is active at a time; the chain state's
// single-writer lock guarantees this in practice.
type DB struct {
	db     *badger.DB
	cache  *LRUCache
	logger *zap.Logger
	config *DBConfig

	// Active explicit transaction. Reads route through it so a
	// reorganization in flight sees its own writes; the cache is
	// bypassed while it is open and invalidated on commit.
	txn     *badger.Txn
	txnKeys map[string]struct{}
	txnMu   sync.Mutex

	metrics *DBMetrics

	closed   bool
	closeMu  sync.RWMutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// DBConfig contains database configuration
type DBConfig struct {
	Path       string
	CacheSize  int
	GCInterval time.Duration
	SyncWrites bool // Sync to disk on every write (slower but safer)
	ReadOnly   bool
	InMemory   bool // For testing
	GCEnabled  bool
}

// DefaultConfig returns default database configuration
func DefaultConfig(path string) *DBConfig {
	return &DBConfig{
		Path:       path,
		CacheSize:  DefaultCacheSize,
		GCInterval: DefaultGCInterval,
		SyncWrites: false,
		ReadOnly:   false,
		InMemory:   false,
		GCEnabled:  true,
	}
}

// DBMetrics tracks database operation counts
type DBMetrics struct {
	GetCount    uint64
	SetCount    uint64
	DeleteCount uint64
	TxnCommits  uint64
	TxnAborts   uint64

	CacheHits   uint64
	CacheMisses uint64

	mu sync.RWMutex
}

// NewDB opens a database instance
func NewDB(config *DBConfig, logger *zap.Logger) (*DB, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !config.InMemory && !config.ReadOnly {
		if err := os.MkdirAll(config.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	opts := badger.DefaultOptions(config.Path)
	opts = tuneBadgerOptions(opts, config)

	badgerDB, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	db := &DB{
		db:       badgerDB,
		cache:    NewLRUCache(config.CacheSize),
		config:   config,
		metrics:  &DBMetrics{},
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	if config.GCEnabled && !config.InMemory {
		db.wg.Add(1)
		go db.runGC()
	}

	logger.Info("Database initialized",
		zap.String("path", config.Path),
		zap.Int("cache_size", config.CacheSize),
		zap.Bool("in_memory", config.InMemory),
	)

	return db, nil
}

// runGC reclaims badger value log space in the background.
func (db *DB) runGC() {
	defer db.wg.Done()

	ticker := time.NewTicker(db.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		again:
			err := db.db.RunValueLogGC(0.5) // Reclaim if >50% garbage
			if err == nil {
				goto again
			}
			if err != badger.ErrNoRewrite {
				db.logger.Warn("Value log GC error", zap.Error(err))
			}

		case <-db.stopChan:
			return
		}
	}
}

// BeginTransaction opens the explicit read-write transaction. All Get,
// Set and Delete calls route through it until CommitTransaction or
// RollbackTransaction.
func (db *DB) BeginTransaction() error {
	if err := db.checkClosed(); err != nil {
		return err
	}

	db.txnMu.Lock()
	defer db.txnMu.Unlock()

	if db.txn != nil {
		return ErrTxnInProgress
	}

	db.txn = db.db.NewTransaction(true)
	db.txnKeys = make(map[string]struct{})
	return nil
}

// CommitTransaction commits the explicit transaction and invalidates
// cache entries for every key it wrote.
func (db *DB) CommitTransaction() error {
	db.txnMu.Lock()
	defer db.txnMu.Unlock()

	if db.txn == nil {
		return ErrNoTransaction
	}

	err := db.txn.Commit()
	txnKeys := db.txnKeys
	db.txn = nil
	db.txnKeys = nil

	for key := range txnKeys {
		db.cache.Delete(key)
	}

	db.metrics.mu.Lock()
	if err != nil {
		db.metrics.TxnAborts++
	} else {
		db.metrics.TxnCommits++
	}
	db.metrics.mu.Unlock()

	if err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	return nil
}

// RollbackTransaction discards the explicit transaction. The cache is
// untouched since nothing reached disk.
func (db *DB) RollbackTransaction() error {
	db.txnMu.Lock()
	defer db.txnMu.Unlock()

	if db.txn == nil {
		return ErrNoTransaction
	}

	db.txn.Discard()
	db.txn = nil
	db.txnKeys = nil

	db.metrics.mu.Lock()
	db.metrics.TxnAborts++
	db.metrics.mu.Unlock()

	return nil
}

// InTransaction reports whether the explicit transaction is open.
func (db *DB) InTransaction() bool {
	db.txnMu.Lock()
	defer db.txnMu.Unlock()
	return db.txn != nil
}

// Get retrieves a value, routing through the active transaction when
// one is open so in-flight writes are visible.
func (db *DB) Get(key []byte) ([]byte, error) {
	if err := db.checkClosed(); err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}

	db.metrics.mu.Lock()
	db.metrics.GetCount++
	db.metrics.mu.Unlock()

	db.txnMu.Lock()
	if db.txn != nil {
		defer db.txnMu.Unlock()
		return readItem(db.txn, key)
	}
	db.txnMu.Unlock()

	if value, found := db.cache.Get(string(key)); found {
		db.metrics.mu.Lock()
		db.metrics.CacheHits++
		db.metrics.mu.Unlock()
		return value, nil
	}

	db.metrics.mu.Lock()
	db.metrics.CacheMisses++
	db.metrics.mu.Unlock()

	var value []byte
	err := db.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = readItem(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	db.cache.Put(string(key), value)
	return value, nil
}

func readItem(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte(nil), val...)
		return nil
	})
	return value, err
}

// Set stores a key-value pair, into the active transaction when one is
// open, otherwise directly.
func (db *DB) Set(key, value []byte) error {
	if err := db.checkClosed(); err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrInvalidKey
	}

	db.metrics.mu.Lock()
	db.metrics.SetCount++
	db.metrics.mu.Unlock()

	db.txnMu.Lock()
	if db.txn != nil {
		defer db.txnMu.Unlock()
		db.txnKeys[string(key)] = struct{}{}
		if err := db.txn.Set(key, value); err != nil {
			return fmt.Errorf("%w: %v", types.ErrWriteFailed, err)
		}
		return nil
	}
	db.txnMu.Unlock()

	db.cache.Put(string(key), value)
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key, through the active transaction when one is open.
func (db *DB) Delete(key []byte) error {
	if err := db.checkClosed(); err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrInvalidKey
	}

	db.metrics.mu.Lock()
	db.metrics.DeleteCount++
	db.metrics.mu.Unlock()

	db.txnMu.Lock()
	if db.txn != nil {
		defer db.txnMu.Unlock()
		db.txnKeys[string(key)] = struct{}{}
		if err := db.txn.Delete(key); err != nil {
			return fmt.Errorf("%w: %v", types.ErrWriteFailed, err)
		}
		return nil
	}
	db.txnMu.Unlock()

	db.cache.Delete(string(key))
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Has reports whether a key exists.
func (db *DB) Has(key []byte) (bool, error) {
	_, err := db.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Iterate iterates over keys with a given prefix. It always reads the
// committed view, never the in-flight transaction.
func (db *DB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	if err := db.checkClosed(); err != nil {
		return err
	}

	return db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				return fn(item.Key(), val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Count counts keys with a given prefix
func (db *DB) Count(prefix []byte) (int, error) {
	if err := db.checkClosed(); err != nil {
		return 0, err
	}

	count := 0
	err := db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// GetMetrics returns a snapshot of database metrics
func (db *DB) GetMetrics() DBMetrics {
	db.metrics.mu.RLock()
	defer db.metrics.mu.RUnlock()

	return DBMetrics{
		GetCount:    db.metrics.GetCount,
		SetCount:    db.metrics.SetCount,
		DeleteCount: db.metrics.DeleteCount,
		TxnCommits:  db.metrics.TxnCommits,
		TxnAborts:   db.metrics.TxnAborts,
		CacheHits:   db.metrics.CacheHits,
		CacheMisses: db.metrics.CacheMisses,
	}
}

// Sync forces a sync to disk
func (db *DB) Sync() error {
	if err := db.checkClosed(); err != nil {
		return err
	}
	if db.config.InMemory {
		return nil
	}
	return db.db.Sync()
}

// Close stops background workers and closes the database. An in-flight
// explicit transaction is discarded.
func (db *DB) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}

	close(db.stopChan)
	db.wg.Wait()

	db.txnMu.Lock()
	if db.txn != nil {
		db.txn.Discard()
		db.txn = nil
		db.txnKeys = nil
		db.logger.Warn("Discarded in-flight transaction on close")
	}
	db.txnMu.Unlock()

	if err := db.db.Close(); err != nil {
		return fmt.Errorf("badger close failed: %w", err)
	}

	db.closed = true
	db.logger.Info("Database closed")
	return nil
}

func (db *DB) checkClosed() error {
	db.closeMu.RLock()
	defer db.closeMu.RUnlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

func validateConfig(config *DBConfig) error {
	if config.Path == "" && !config.InMemory {
		return errors.New("path cannot be empty for disk-based database")
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.GCInterval <= 0 {
		config.GCInterval = DefaultGCInterval
	}
	return nil
}

func tuneBadgerOptions(opts badger.Options, config *DBConfig) badger.Options {
	if config.InMemory {
		opts = opts.WithInMemory(true)
	}
	if config.ReadOnly {
		opts = opts.WithReadOnly(true)
	}

	opts = opts.WithValueLogFileSize(ValueLogFileSize)
	opts = opts.WithNumCompactors(NumCompactors)
	opts = opts.WithNumMemtables(NumMemtables)
	opts = opts.WithValueThreshold(1024) // Store values > 1KB in value log

	if config.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}

	// Badger's own logging is noisy; rely on ours
	opts = opts.WithLogger(nil)

	return opts
}
