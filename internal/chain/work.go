package chain

import (
	"fmt"
	"math"
	"math/big"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// maxWork is 2^256 - 1, the work of a block whose target is 1.
var maxWork = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// BlockWork returns the expected number of hash attempts a block's
// target represents: (2^256 - 1) / target. A higher target means an
// easier block and therefore less work. A zero target is treated as the
// hardest possible block; callers reject it during structural
// validation before work enters fork choice.
func BlockWork(target uint32) *big.Int {
	if target == 0 {
		return new(big.Int).Set(maxWork)
	}
	return new(big.Int).Div(maxWork, big.NewInt(int64(target)))
}

// BlockDifficulty is the 64-bit difficulty figure accumulated into the
// persisted total-difficulty metadata. It mirrors the work formula at
// u64 width so ordering matches chain work.
func BlockDifficulty(target uint32) uint64 {
	if target == 0 {
		return math.MaxUint64
	}
	return math.MaxUint64 / uint64(target)
}

// saturatingAdd adds two difficulty figures, clamping at the u64 limit.
func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// saturatingSub subtracts b from a, clamping at zero.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// calculateChainWork returns the cumulative work of the chain ending at
// block. Cumulative work is memoized per block hash; unknown ancestry
// is resolved by walking parents back to the nearest memoized block or
// genesis. An ancestor missing from storage propagates as the store's
// error: callers establish parent existence before scoring, so a miss
// here means the store lost a block it once held.
//
// Caller holds the write lock.
func (cs *ChainState) calculateChainWork(block *types.Block) (*big.Int, error) {
	if work, ok := cs.chainWork[block.Header.Hash]; ok {
		return new(big.Int).Set(work), nil
	}

	// Walk back until a block with known cumulative work.
	pending := []*types.Block{block}
	cursor := block
	var base *big.Int

	for {
		if cursor.IsGenesis() {
			base = big.NewInt(0)
			break
		}
		if work, ok := cs.chainWork[cursor.Header.PrevBlockHash]; ok {
			base = new(big.Int).Set(work)
			break
		}
		parent, err := cs.store.GetBlock(cursor.Header.PrevBlockHash)
		if err != nil {
			return nil, fmt.Errorf("failed to load ancestor %s: %w",
				cursor.Header.PrevBlockHash.Short(), err)
		}
		pending = append(pending, parent)
		cursor = parent
	}

	// Replay forward, memoizing as we go.
	work := base
	for i := len(pending) - 1; i >= 0; i-- {
		b := pending[i]
		work = new(big.Int).Add(work, BlockWork(b.Header.Target))
		cs.chainWork[b.Header.Hash] = new(big.Int).Set(work)
	}

	return new(big.Int).Set(work), nil
}
