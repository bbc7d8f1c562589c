package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// Typed accessors over the raw keyspace. These are the operations the
// chain state drives; inside an explicit transaction they all read and
// write through it.

// PutBlock stores a block by hash and indexes its transactions.
func (db *DB) PutBlock(block *types.Block) error {
	data, err := block.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize block: %w", err)
	}

	if err := db.Set(BlockKey(block.Header.Hash), data); err != nil {
		return err
	}

	for _, tx := range block.Transactions {
		txHash := tx.Hash()
		if err := db.Set(TxIndexKey(txHash), block.Header.Hash[:]); err != nil {
			return err
		}
	}

	return nil
}

// GetBlock retrieves a block by hash. Returns types.ErrBlockNotFound if
// the block is not stored.
func (db *DB) GetBlock(hash types.Hash) (*types.Block, error) {
	data, err := db.Get(BlockKey(hash))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, types.ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.DeserializeBlock(data)
}

// HasBlock reports whether a block is stored.
func (db *DB) HasBlock(hash types.Hash) (bool, error) {
	return db.Has(BlockKey(hash))
}

// GetBlockByTx returns the block containing the given transaction.
func (db *DB) GetBlockByTx(txHash types.Hash) (*types.Block, error) {
	data, err := db.Get(TxIndexKey(txHash))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, types.ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}
	blockHash, err := types.HashFromBytes(data)
	if err != nil {
		return nil, err
	}
	return db.GetBlock(blockHash)
}

// PutUTXO stores an unspent output.
func (db *DB) PutUTXO(op types.OutPoint, out *types.TxOutput) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to serialize output: %w", err)
	}
	return db.Set(UTXOKey(op), data)
}

// GetUTXO retrieves an unspent output. Returns types.ErrUTXONotFound if
// the outpoint is not in the set.
func (db *DB) GetUTXO(op types.OutPoint) (*types.TxOutput, error) {
	data, err := db.Get(UTXOKey(op))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, types.ErrUTXONotFound
	}
	if err != nil {
		return nil, err
	}
	var out types.TxOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HasUTXO reports whether an outpoint is unspent.
func (db *DB) HasUTXO(op types.OutPoint) (bool, error) {
	return db.Has(UTXOKey(op))
}

// DeleteUTXO removes an output from the unspent set.
func (db *DB) DeleteUTXO(op types.OutPoint) error {
	return db.Delete(UTXOKey(op))
}

// CountUTXOs returns the size of the unspent output set.
func (db *DB) CountUTXOs() (int, error) {
	return db.Count([]byte(PrefixUTXO))
}

// PutChainHeight persists the best chain height, big-endian for key
// ordering.
func (db *DB) PutChainHeight(height uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return db.Set(ChainHeightKey(), buf)
}

// GetChainHeight reads the persisted best chain height.
func (db *DB) GetChainHeight() (uint64, error) {
	data, err := db.Get(ChainHeightKey())
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt height metadata: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutBestBlockHash persists the hash of the active chain tip.
func (db *DB) PutBestBlockHash(hash types.Hash) error {
	return db.Set(BestBlockHashKey(), hash[:])
}

// GetBestBlockHash reads the persisted chain tip hash.
func (db *DB) GetBestBlockHash() (types.Hash, error) {
	data, err := db.Get(BestBlockHashKey())
	if errors.Is(err, ErrKeyNotFound) {
		return types.ZeroHash, types.ErrChainTipNotFound
	}
	if err != nil {
		return types.ZeroHash, err
	}
	return types.HashFromBytes(data)
}

// PutTotalDifficulty persists the cumulative chain difficulty.
func (db *DB) PutTotalDifficulty(diff uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, diff)
	return db.Set(TotalDifficultyKey(), buf)
}

// GetTotalDifficulty reads the cumulative chain difficulty.
func (db *DB) GetTotalDifficulty() (uint64, error) {
	data, err := db.Get(TotalDifficultyKey())
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt difficulty metadata: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutGenesisHash persists the genesis block hash.
func (db *DB) PutGenesisHash(hash types.Hash) error {
	return db.Set(GenesisKey(), hash[:])
}

// GetGenesisHash reads the genesis block hash. Returns
// types.ErrGenesisNotFound on a fresh database.
func (db *DB) GetGenesisHash() (types.Hash, error) {
	data, err := db.Get(GenesisKey())
	if errors.Is(err, ErrKeyNotFound) {
		return types.ZeroHash, types.ErrGenesisNotFound
	}
	if err != nil {
		return types.ZeroHash, err
	}
	return types.HashFromBytes(data)
}
