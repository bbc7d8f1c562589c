package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(&DBConfig{
		InMemory:  true,
		CacheSize: 100,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDBSetGetDelete(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set([]byte("k1"), []byte("v1")))

	value, err := db.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	ok, err := db.Has([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Delete([]byte("k1")))
	_, err = db.Get([]byte("k1"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ok, err = db.Has([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDBEmptyKeyRejected(t *testing.T) {
	db := newTestDB(t)

	assert.ErrorIs(t, db.Set(nil, []byte("v")), ErrInvalidKey)
	_, err := db.Get(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, db.Delete(nil), ErrInvalidKey)
}

func TestDBTransactionCommit(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set([]byte("pre"), []byte("old")))

	require.NoError(t, db.BeginTransaction())
	assert.True(t, db.InTransaction())
	assert.ErrorIs(t, db.BeginTransaction(), ErrTxnInProgress)

	require.NoError(t, db.Set([]byte("pre"), []byte("new")))
	require.NoError(t, db.Set([]byte("added"), []byte("v")))

	// Reads inside the transaction see its own writes.
	value, err := db.Get([]byte("pre"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)

	require.NoError(t, db.CommitTransaction())
	assert.False(t, db.InTransaction())

	value, err = db.Get([]byte("pre"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
	value, err = db.Get([]byte("added"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	metrics := db.GetMetrics()
	assert.Equal(t, uint64(1), metrics.TxnCommits)
}

func TestDBTransactionRollback(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set([]byte("keep"), []byte("before")))

	require.NoError(t, db.BeginTransaction())
	require.NoError(t, db.Set([]byte("keep"), []byte("changed")))
	require.NoError(t, db.Set([]byte("discard"), []byte("v")))
	require.NoError(t, db.Delete([]byte("keep")))
	require.NoError(t, db.RollbackTransaction())

	// Nothing from the transaction reached the committed view.
	value, err := db.Get([]byte("keep"))
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), value)
	_, err = db.Get([]byte("discard"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	metrics := db.GetMetrics()
	assert.Equal(t, uint64(1), metrics.TxnAborts)
}

func TestDBTransactionLifecycleErrors(t *testing.T) {
	db := newTestDB(t)

	assert.ErrorIs(t, db.CommitTransaction(), ErrNoTransaction)
	assert.ErrorIs(t, db.RollbackTransaction(), ErrNoTransaction)
}

func TestDBCacheCoherenceAcrossCommit(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set([]byte("k"), []byte("v1")))

	// Warm the cache.
	_, err := db.Get([]byte("k"))
	require.NoError(t, err)

	require.NoError(t, db.BeginTransaction())
	require.NoError(t, db.Set([]byte("k"), []byte("v2")))
	require.NoError(t, db.CommitTransaction())

	// The cached v1 must have been invalidated by the commit.
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func TestDBIterateAndCount(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set([]byte("p:a"), []byte("1")))
	require.NoError(t, db.Set([]byte("p:b"), []byte("2")))
	require.NoError(t, db.Set([]byte("q:c"), []byte("3")))

	seen := make(map[string]string)
	err := db.Iterate([]byte("p:"), func(key, value []byte) error {
		seen[string(key)] = string(value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p:a": "1", "p:b": "2"}, seen)

	count, err := db.Count([]byte("p:"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDBClosed(t *testing.T) {
	db, err := NewDB(&DBConfig{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Set([]byte("k"), []byte("v")), ErrDatabaseClosed)
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	assert.ErrorIs(t, db.Close(), ErrDatabaseClosed)
}
