package storage

import (
	"fmt"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// Key prefixes for different data types in BadgerDB
const (
	// Blocks, keyed by hash
	PrefixBlock = "b:x:" // b:x:<hash> → Block

	// Transaction index
	PrefixTxIndex = "t:x:" // t:x:<txhash> → containing block hash

	// Unspent outputs
	PrefixUTXO = "u:" // u:<txid>:<index> → TxOutput

	// Chain metadata
	KeyChainHeight     = "m:height"           // → best height, 8-byte big-endian
	KeyBestBlockHash   = "m:best_hash"        // → best block hash, 32 bytes
	KeyTotalDifficulty = "m:total_difficulty" // → cumulative difficulty, 8-byte big-endian
	KeyGenesis         = "m:genesis"          // → genesis block hash, 32 bytes
)

// BlockKey generates the key for a block stored by hash
func BlockKey(hash types.Hash) []byte {
	return []byte(PrefixBlock + hash.String())
}

// TxIndexKey generates the key mapping a transaction to its block
func TxIndexKey(txHash types.Hash) []byte {
	return []byte(PrefixTxIndex + txHash.String())
}

// UTXOKey generates the key for an unspent output
func UTXOKey(op types.OutPoint) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", PrefixUTXO, op.TxID.String(), op.Index))
}

// ChainHeightKey returns the key for the best chain height
func ChainHeightKey() []byte {
	return []byte(KeyChainHeight)
}

// BestBlockHashKey returns the key for the best block hash
func BestBlockHashKey() []byte {
	return []byte(KeyBestBlockHash)
}

// TotalDifficultyKey returns the key for the cumulative chain difficulty
func TotalDifficultyKey() []byte {
	return []byte(KeyTotalDifficulty)
}

// GenesisKey returns the key for the genesis block hash
func GenesisKey() []byte {
	return []byte(KeyGenesis)
}
