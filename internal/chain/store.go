package chain

import (
	"github.com/helioscoin/helios-blockchain/internal/types"
)

// Store is the persistence surface the chain state drives. The badger
// wrapper in internal/storage implements it; tests substitute an
// in-memory fake with fault injection.
//
// BeginTransaction opens a single explicit read-write transaction; every
// mutation between it and CommitTransaction lands atomically or not at
// all. The chain state's single-writer lock guarantees at most one
// transaction is open.
type Store interface {
	PutBlock(block *types.Block) error
	GetBlock(hash types.Hash) (*types.Block, error)
	HasBlock(hash types.Hash) (bool, error)

	PutUTXO(op types.OutPoint, out *types.TxOutput) error
	GetUTXO(op types.OutPoint) (*types.TxOutput, error)
	HasUTXO(op types.OutPoint) (bool, error)
	DeleteUTXO(op types.OutPoint) error

	PutChainHeight(height uint64) error
	GetChainHeight() (uint64, error)
	PutBestBlockHash(hash types.Hash) error
	GetBestBlockHash() (types.Hash, error)
	PutTotalDifficulty(diff uint64) error
	GetTotalDifficulty() (uint64, error)
	PutGenesisHash(hash types.Hash) error
	GetGenesisHash() (types.Hash, error)

	BeginTransaction() error
	CommitTransaction() error
	RollbackTransaction() error
}
