package chain

import (
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// ForkInfo describes one competing chain the node is aware of. The
// branch point is the last block shared with the chain that was active
// when the fork appeared; the tip is the fork's highest block.
type ForkInfo struct {
	TipHash      types.Hash `json:"tipHash"`
	TipHeight    uint64     `json:"tipHeight"`
	BranchPoint  types.Hash `json:"branchPoint"`
	BranchHeight uint64     `json:"branchHeight"`
	Length       uint64     `json:"length"` // blocks past the branch point
	ChainWork    *big.Int   `json:"chainWork"`
	FirstSeen    time.Time  `json:"firstSeen"`
	LastExtended time.Time  `json:"lastExtended"`
}

// ForkTracker maintains the set of known competing chains. Forks are
// keyed by tip hash; a secondary index groups tips by branch point so
// all contenders at a divergence can be listed together.
type ForkTracker struct {
	mu       sync.RWMutex
	tips     map[types.Hash]*ForkInfo
	byBranch map[types.Hash]map[types.Hash]struct{}
	logger   *zap.Logger
}

// NewForkTracker creates an empty tracker.
func NewForkTracker(logger *zap.Logger) *ForkTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForkTracker{
		tips:     make(map[types.Hash]*ForkInfo),
		byBranch: make(map[types.Hash]map[types.Hash]struct{}),
		logger:   logger,
	}
}

// Observe registers a side-chain block. If the block extends a tracked
// fork tip the fork is re-keyed to the new tip; otherwise a new fork is
// opened with the block's parent as branch point.
func (ft *ForkTracker) Observe(block *types.Block, parentHeight uint64, work *big.Int, now time.Time) *ForkInfo {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	parent := block.Header.PrevBlockHash

	if fork, extends := ft.tips[parent]; extends {
		ft.unindexLocked(fork)
		delete(ft.tips, parent)

		fork.TipHash = block.Header.Hash
		fork.TipHeight = block.Header.Height
		fork.Length++
		fork.ChainWork = new(big.Int).Set(work)
		fork.LastExtended = now

		ft.tips[fork.TipHash] = fork
		ft.indexLocked(fork)

		ft.logger.Debug("Fork extended",
			zap.String("tip", fork.TipHash.Short()),
			zap.Uint64("tip_height", fork.TipHeight),
			zap.Uint64("length", fork.Length))
		return fork
	}

	fork := &ForkInfo{
		TipHash:      block.Header.Hash,
		TipHeight:    block.Header.Height,
		BranchPoint:  parent,
		BranchHeight: parentHeight,
		Length:       1,
		ChainWork:    new(big.Int).Set(work),
		FirstSeen:    now,
		LastExtended: now,
	}
	ft.tips[fork.TipHash] = fork
	ft.indexLocked(fork)

	ft.logger.Info("New fork observed",
		zap.String("tip", fork.TipHash.Short()),
		zap.String("branch_point", fork.BranchPoint.Short()),
		zap.Uint64("branch_height", fork.BranchHeight))
	return fork
}

// Record inserts a fork directly, used when the displaced main chain
// becomes a fork after a reorganization.
func (ft *ForkTracker) Record(fork *ForkInfo) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.tips[fork.TipHash] = fork
	ft.indexLocked(fork)
}

// Remove drops a fork by tip hash, typically because it just won a
// reorganization and became the main chain.
func (ft *ForkTracker) Remove(tip types.Hash) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	fork, exists := ft.tips[tip]
	if !exists {
		return
	}
	ft.unindexLocked(fork)
	delete(ft.tips, tip)
}

// Get returns the fork with the given tip, if tracked.
func (ft *ForkTracker) Get(tip types.Hash) (*ForkInfo, bool) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	fork, exists := ft.tips[tip]
	if !exists {
		return nil, false
	}
	cloned := *fork
	cloned.ChainWork = new(big.Int).Set(fork.ChainWork)
	return &cloned, true
}

// TipsAt lists all tracked tips branching from the given block.
func (ft *ForkTracker) TipsAt(branchPoint types.Hash) []types.Hash {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	set, exists := ft.byBranch[branchPoint]
	if !exists {
		return nil
	}
	tips := make([]types.Hash, 0, len(set))
	for tip := range set {
		tips = append(tips, tip)
	}
	return tips
}

// ActiveCount returns the number of tracked forks.
func (ft *ForkTracker) ActiveCount() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.tips)
}

// MaxLength returns the length of the longest tracked fork.
func (ft *ForkTracker) MaxLength() uint64 {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	var max uint64
	for _, fork := range ft.tips {
		if fork.Length > max {
			max = fork.Length
		}
	}
	return max
}

// Snapshot returns copies of all tracked forks.
func (ft *ForkTracker) Snapshot() []*ForkInfo {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	forks := make([]*ForkInfo, 0, len(ft.tips))
	for _, fork := range ft.tips {
		cloned := *fork
		cloned.ChainWork = new(big.Int).Set(fork.ChainWork)
		forks = append(forks, &cloned)
	}
	return forks
}

// Prune drops forks that are both stale and hopelessly behind: not
// extended within maxAge and with a tip more than maxDistance blocks
// below the active height. Both conditions must hold; a deep fork still
// being extended stays tracked, as does a recent short one. Returns the
// number of forks removed.
func (ft *ForkTracker) Prune(now time.Time, activeHeight uint64, maxAge time.Duration, maxDistance uint64) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	removed := 0
	for tip, fork := range ft.tips {
		stale := now.Sub(fork.LastExtended) > maxAge
		behind := activeHeight > fork.TipHeight && activeHeight-fork.TipHeight > maxDistance
		if stale && behind {
			ft.unindexLocked(fork)
			delete(ft.tips, tip)
			removed++
		}
	}

	if removed > 0 {
		ft.logger.Debug("Pruned stale forks",
			zap.Int("removed", removed),
			zap.Int("remaining", len(ft.tips)))
	}
	return removed
}

func (ft *ForkTracker) indexLocked(fork *ForkInfo) {
	set, exists := ft.byBranch[fork.BranchPoint]
	if !exists {
		set = make(map[types.Hash]struct{})
		ft.byBranch[fork.BranchPoint] = set
	}
	set[fork.TipHash] = struct{}{}
}

func (ft *ForkTracker) unindexLocked(fork *ForkInfo) {
	set, exists := ft.byBranch[fork.BranchPoint]
	if !exists {
		return
	}
	delete(set, fork.TipHash)
	if len(set) == 0 {
		delete(ft.byBranch, fork.BranchPoint)
	}
}
