package chain

import (
	"math/big"
	"time"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// ForkChoiceReason records why one chain was preferred over another.
// The engine currently decides on chain work alone, keeping the
// first-seen chain on ties; the remaining variants are reserved for the
// log and wire surface so downstream consumers have a stable vocabulary.
type ForkChoiceReason int

const (
	// ChoiceHigherChainWork: the adopted chain carries strictly more
	// cumulative work.
	ChoiceHigherChainWork ForkChoiceReason = iota
	// ChoiceFirstSeen: equal work, the incumbent chain is kept.
	ChoiceFirstSeen
	// ChoiceLongerChain is reserved; length never overrides work.
	ChoiceLongerChain
	// ChoiceMoreRecentCheckpoint is reserved.
	ChoiceMoreRecentCheckpoint
	// ChoiceNetworkMajority is reserved.
	ChoiceNetworkMajority
	// ChoiceManualOverride is reserved.
	ChoiceManualOverride
)

func (r ForkChoiceReason) String() string {
	switch r {
	case ChoiceHigherChainWork:
		return "higher_chain_work"
	case ChoiceFirstSeen:
		return "first_seen"
	case ChoiceLongerChain:
		return "longer_chain"
	case ChoiceMoreRecentCheckpoint:
		return "more_recent_checkpoint"
	case ChoiceNetworkMajority:
		return "network_majority"
	case ChoiceManualOverride:
		return "manual_override"
	default:
		return "unknown"
	}
}

// ReorganizationEvent describes one completed chain reorganization. It
// is emitted to the log and to any registered listener; it is not
// persisted.
type ReorganizationEvent struct {
	OldTip             types.Hash
	NewTip             types.Hash
	ForkPoint          types.Hash
	ForkHeight         uint64
	OldHeight          uint64
	NewHeight          uint64
	BlocksDisconnected int
	BlocksConnected    int
	OldWork            *big.Int
	NewWork            *big.Int
	Reason             ForkChoiceReason
	Timestamp          time.Time
}
