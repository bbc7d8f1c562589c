package chain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// reorgPlan is the output of fork-point discovery: the common ancestor
// plus the exact block sequences to disconnect and connect.
type reorgPlan struct {
	forkPoint  types.Hash
	forkHeight uint64
	disconnect []*types.Block // current chain, tip first
	connect    []*types.Block // new chain, fork point first
}

// findForkPoint walks the current chain and the candidate chain back in
// lock step until they meet. Returns types.ErrNoCommonAncestor if
// either walk reaches genesis without converging; two chains that share
// no history cannot be reconciled and indicate a corrupt store or a
// block from a different network.
//
// Caller holds the write lock.
func (cs *ChainState) findForkPoint(newTip *types.Block) (*reorgPlan, error) {
	old, err := cs.store.GetBlock(cs.bestBlockHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load current tip %s: %w", cs.bestBlockHash.Short(), err)
	}
	candidate := newTip

	var disconnect []*types.Block
	var connectRev []*types.Block

	walkBack := func(b *types.Block) (*types.Block, error) {
		if b.IsGenesis() {
			return nil, types.ErrNoCommonAncestor
		}
		parent, err := cs.store.GetBlock(b.Header.PrevBlockHash)
		if err != nil {
			return nil, fmt.Errorf("%w: missing ancestor %s",
				types.ErrNoCommonAncestor, b.Header.PrevBlockHash.Short())
		}
		return parent, nil
	}

	// Level the heights first, then descend in lock step.
	for old.Header.Height > candidate.Header.Height {
		disconnect = append(disconnect, old)
		if old, err = walkBack(old); err != nil {
			return nil, err
		}
	}
	for candidate.Header.Height > old.Header.Height {
		connectRev = append(connectRev, candidate)
		if candidate, err = walkBack(candidate); err != nil {
			return nil, err
		}
	}
	for old.Header.Hash != candidate.Header.Hash {
		disconnect = append(disconnect, old)
		connectRev = append(connectRev, candidate)
		if old, err = walkBack(old); err != nil {
			return nil, err
		}
		if candidate, err = walkBack(candidate); err != nil {
			return nil, err
		}
	}

	connect := make([]*types.Block, len(connectRev))
	for i, b := range connectRev {
		connect[len(connectRev)-1-i] = b
	}

	return &reorgPlan{
		forkPoint:  old.Header.Hash,
		forkHeight: old.Header.Height,
		disconnect: disconnect,
		connect:    connect,
	}, nil
}

// handleChainReorganization switches the active chain to the one ending
// at newTip. The checkpoint floor and the reorganization depth limit
// are enforced before anything is touched; the switch itself runs
// inside a single storage transaction so a failure at any point leaves
// the current chain fully intact. In-memory state is only updated after
// the commit succeeds.
//
// Caller holds the write lock.
func (cs *ChainState) handleChainReorganization(newTip *types.Block, newWork *big.Int, reason ForkChoiceReason) (bool, error) {
	plan, err := cs.findForkPoint(newTip)
	if err != nil {
		// No common ancestor is fatal for this candidate chain.
		return false, err
	}

	if !cs.checkpoints.CanReorganizeBelow(plan.forkHeight) {
		cs.rejectedReorgs++
		cs.invalid.MarkInvalid(newTip.Header.Hash, newTip.Header.Height,
			StructuralReason(ReasonCheckpointViolation))
		cs.metrics.RecordRejectedReorg()
		cs.logger.Warn("Reorganization rejected: fork below checkpoint",
			zap.Uint64("fork_height", plan.forkHeight),
			zap.Uint64("checkpoint_height", cs.checkpoints.MaxCheckpointHeight()),
			zap.String("new_tip", newTip.Header.Hash.Short()))
		return false, nil
	}

	if uint64(len(plan.disconnect)) > cs.cfg.MaxReorgDepth {
		cs.rejectedReorgs++
		cs.metrics.RecordRejectedReorg()
		cs.logger.Warn("Reorganization rejected: too deep",
			zap.Int("depth", len(plan.disconnect)),
			zap.Uint64("max_depth", cs.cfg.MaxReorgDepth),
			zap.String("new_tip", newTip.Header.Hash.Short()))
		return false, nil
	}

	oldTip := cs.bestBlockHash
	oldHeight := cs.currentHeight
	oldWork := cs.bestChainWork()

	if err := cs.store.BeginTransaction(); err != nil {
		return false, fmt.Errorf("failed to begin reorganization: %w", err)
	}

	totalDiff := cs.totalDifficulty

	// Disconnect the losing branch tip first.
	for _, b := range plan.disconnect {
		if err := reverseBlockTransactions(cs.store, b, cs.cfg.UtxoLookback); err != nil {
			cs.rollback()
			return false, fmt.Errorf("failed to disconnect block %s: %w", b.Header.Hash.Short(), err)
		}
		totalDiff = saturatingSub(totalDiff, BlockDifficulty(b.Header.Target))
	}

	// Connect the winning branch fork point first.
	for _, b := range plan.connect {
		if err := applyBlockTransactions(cs.store, b); err != nil {
			cs.rollback()
			var txErr *txValidationError
			if errors.As(err, &txErr) {
				cs.invalid.MarkInvalid(b.Header.Hash, b.Header.Height, TxReason(txErr.index))
				cs.invalid.MarkDescendantsInvalid(b.Header.Hash, b.Header.Height)
			}
			return false, fmt.Errorf("failed to connect block %s: %w", b.Header.Hash.Short(), err)
		}
		totalDiff = saturatingAdd(totalDiff, BlockDifficulty(b.Header.Target))
	}

	if err := cs.persistTipMetadata(newTip.Header.Height, newTip.Header.Hash, totalDiff); err != nil {
		cs.rollback()
		return false, err
	}

	if err := cs.store.CommitTransaction(); err != nil {
		return false, fmt.Errorf("failed to commit reorganization: %w", err)
	}

	now := time.Now()
	cs.currentHeight = newTip.Header.Height
	cs.bestBlockHash = newTip.Header.Hash
	cs.totalDifficulty = totalDiff
	cs.reorgCount++
	cs.lastReorgTime = now
	cs.forkPoints[plan.forkPoint] = now

	// Invalid records reached only through the displaced blocks are now
	// orphaned; drop them so they do not outlive their chain.
	disconnected := make([]types.Hash, len(plan.disconnect))
	for i, b := range plan.disconnect {
		disconnected[i] = b.Header.Hash
	}
	cs.invalid.CleanupOrphans(disconnected)

	// The winner leaves the fork set; the displaced chain joins it so a
	// later counter-reorganization remains possible.
	cs.forks.Remove(newTip.Header.Hash)
	if len(plan.disconnect) > 0 {
		cs.forks.Record(&ForkInfo{
			TipHash:      oldTip,
			TipHeight:    oldHeight,
			BranchPoint:  plan.forkPoint,
			BranchHeight: plan.forkHeight,
			Length:       uint64(len(plan.disconnect)),
			ChainWork:    oldWork,
			FirstSeen:    now,
			LastExtended: now,
		})
	}

	event := ReorganizationEvent{
		OldTip:             oldTip,
		NewTip:             newTip.Header.Hash,
		ForkPoint:          plan.forkPoint,
		ForkHeight:         plan.forkHeight,
		OldHeight:          oldHeight,
		NewHeight:          newTip.Header.Height,
		BlocksDisconnected: len(plan.disconnect),
		BlocksConnected:    len(plan.connect),
		OldWork:            oldWork,
		NewWork:            new(big.Int).Set(newWork),
		Reason:             reason,
		Timestamp:          now,
	}

	cs.logger.Warn("Chain reorganization",
		zap.Uint64("old_height", oldHeight),
		zap.Uint64("new_height", newTip.Header.Height),
		zap.String("old_tip", oldTip.Short()),
		zap.String("new_tip", newTip.Header.Hash.Short()),
		zap.String("fork_point", plan.forkPoint.Short()),
		zap.Int("blocks_disconnected", len(plan.disconnect)),
		zap.Int("blocks_connected", len(plan.connect)),
		zap.String("reason", reason.String()))

	cs.metrics.RecordReorg(len(plan.disconnect), len(plan.connect))
	cs.metrics.SetChainHeight(cs.currentHeight)

	if cs.onReorg != nil {
		cs.onReorg(event)
	}

	return true, nil
}

// rollback discards the in-flight storage transaction, logging rather
// than propagating any secondary failure so the original error wins.
func (cs *ChainState) rollback() {
	if err := cs.store.RollbackTransaction(); err != nil {
		cs.logger.Error("Rollback failed", zap.Error(err))
	}
}

func (cs *ChainState) persistTipMetadata(height uint64, hash types.Hash, totalDiff uint64) error {
	if err := cs.store.PutChainHeight(height); err != nil {
		return fmt.Errorf("failed to persist height: %w", err)
	}
	if err := cs.store.PutBestBlockHash(hash); err != nil {
		return fmt.Errorf("failed to persist best hash: %w", err)
	}
	if err := cs.store.PutTotalDifficulty(totalDiff); err != nil {
		return fmt.Errorf("failed to persist total difficulty: %w", err)
	}
	return nil
}
