package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

func TestBlockRoundTrip(t *testing.T) {
	db := newTestDB(t)

	genesis := types.NewGenesisBlock()
	coinbase := types.NewCoinbaseTransaction(1, 50, []byte("miner"))
	block := types.NewBlock(genesis.Header.Hash, 1, []*types.Transaction{coinbase}, types.InitialTarget)

	_, err := db.GetBlock(block.Header.Hash)
	assert.ErrorIs(t, err, types.ErrBlockNotFound)

	require.NoError(t, db.PutBlock(block))

	got, err := db.GetBlock(block.Header.Hash)
	require.NoError(t, err)
	assert.Equal(t, block.Header.Hash, got.Header.Hash)
	assert.Equal(t, block.Header.Height, got.Header.Height)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, coinbase.Hash(), got.Transactions[0].Hash())

	ok, err := db.HasBlock(block.Header.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	// The transaction index points back at the containing block.
	byTx, err := db.GetBlockByTx(coinbase.Hash())
	require.NoError(t, err)
	assert.Equal(t, block.Header.Hash, byTx.Header.Hash)

	_, err = db.GetBlockByTx(types.Hash{0xff})
	assert.ErrorIs(t, err, types.ErrTxNotFound)
}

func TestUTXORoundTrip(t *testing.T) {
	db := newTestDB(t)

	op := types.OutPoint{TxID: types.Hash{0x01}, Index: 2}
	out := &types.TxOutput{Value: 75, ScriptPubKey: []byte("dest")}

	_, err := db.GetUTXO(op)
	assert.ErrorIs(t, err, types.ErrUTXONotFound)

	require.NoError(t, db.PutUTXO(op, out))

	got, err := db.GetUTXO(op)
	require.NoError(t, err)
	assert.Equal(t, out.Value, got.Value)
	assert.Equal(t, out.ScriptPubKey, got.ScriptPubKey)

	ok, err := db.HasUTXO(op)
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := db.CountUTXOs()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, db.DeleteUTXO(op))
	_, err = db.GetUTXO(op)
	assert.ErrorIs(t, err, types.ErrUTXONotFound)
}

func TestChainMetadata(t *testing.T) {
	db := newTestDB(t)

	// Fresh database sentinels.
	_, err := db.GetBestBlockHash()
	assert.ErrorIs(t, err, types.ErrChainTipNotFound)
	_, err = db.GetGenesisHash()
	assert.ErrorIs(t, err, types.ErrGenesisNotFound)
	diff, err := db.GetTotalDifficulty()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), diff)

	tip := types.Hash{0x0a}
	genesis := types.Hash{0x0b}
	require.NoError(t, db.PutChainHeight(42))
	require.NoError(t, db.PutBestBlockHash(tip))
	require.NoError(t, db.PutTotalDifficulty(1234))
	require.NoError(t, db.PutGenesisHash(genesis))

	height, err := db.GetChainHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)

	got, err := db.GetBestBlockHash()
	require.NoError(t, err)
	assert.Equal(t, tip, got)

	diff, err = db.GetTotalDifficulty()
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), diff)

	got, err = db.GetGenesisHash()
	require.NoError(t, err)
	assert.Equal(t, genesis, got)
}

func TestChainMetadataTransactional(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.PutChainHeight(10))
	require.NoError(t, db.PutBestBlockHash(types.Hash{0x01}))

	// A rolled-back tip update leaves the old metadata intact.
	require.NoError(t, db.BeginTransaction())
	require.NoError(t, db.PutChainHeight(11))
	require.NoError(t, db.PutBestBlockHash(types.Hash{0x02}))
	require.NoError(t, db.RollbackTransaction())

	height, err := db.GetChainHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), height)
	tip, err := db.GetBestBlockHash()
	require.NoError(t, err)
	assert.Equal(t, types.Hash{0x01}, tip)
}
