package types

import "errors"

// Block validation errors
var (
	ErrInvalidBlockHash  = errors.New("invalid block hash")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidTarget     = errors.New("invalid difficulty target")
	ErrInvalidMerkleRoot = errors.New("invalid merkle root")
	ErrMultipleCoinbase  = errors.New("multiple coinbase transactions")
	ErrMissingCoinbase   = errors.New("missing coinbase transaction")
)

// Transaction validation errors
var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrMissingInputs      = errors.New("transaction has no inputs")
	ErrMissingOutputs     = errors.New("transaction has no outputs")
	ErrDoubleSpend        = errors.New("output spent more than once")
	ErrUTXONotFound       = errors.New("referenced output not found")
	ErrTxNotFound         = errors.New("transaction not found")
)

// Chain state errors
var (
	ErrBlockNotFound      = errors.New("block not found")
	ErrDuplicateBlock     = errors.New("block already processed")
	ErrOrphanBlock        = errors.New("orphan block")
	ErrBlockInvalid       = errors.New("block marked invalid")
	ErrParentInvalid      = errors.New("parent block marked invalid")
	ErrForkTooDistant     = errors.New("fork point beyond maximum fork distance")
	ErrReorgTooDeep       = errors.New("reorganization too deep")
	ErrNoCommonAncestor   = errors.New("no common ancestor between chains")
	ErrCheckpointMismatch = errors.New("block conflicts with checkpoint")
	ErrGenesisNotFound    = errors.New("genesis block not found")
	ErrChainTipNotFound   = errors.New("chain tip not found")
)

// Storage errors
var (
	ErrDatabaseClosed = errors.New("database is closed")
	ErrKeyNotFound    = errors.New("key not found")
	ErrNoTransaction  = errors.New("no storage transaction active")
	ErrTxnInProgress  = errors.New("storage transaction already active")
	ErrWriteFailed    = errors.New("write operation failed")
)
