package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/types"
	"github.com/helioscoin/helios-blockchain/pkg/metrics"
)

// Config bounds the engine's fork handling.
type Config struct {
	// MaxReorgDepth is the maximum number of blocks a reorganization
	// may disconnect. Deeper reorganizations are rejected and the
	// current chain kept.
	MaxReorgDepth uint64
	// MaxForkDistance is how far from the active tip a block with an
	// unknown parent may claim to sit before it is rejected outright
	// instead of treated as an orphan.
	MaxForkDistance uint64
	// UtxoLookback is how many blocks back disconnect processing will
	// search for the transaction that created a spent output. Must
	// exceed MaxReorgDepth or a deep reorganization could hit an
	// unrecoverable output.
	UtxoLookback uint64
	// ForkPruneAge is how long an unextended fork is kept.
	ForkPruneAge time.Duration
	// MaxInvalidAttempts is how many rejections a block gets before it
	// is refused permanently.
	MaxInvalidAttempts int
	// InvalidRetention is how long non-permanent invalid records live.
	InvalidRetention time.Duration
}

// DefaultConfig returns the production fork-handling bounds.
func DefaultConfig() Config {
	return Config{
		MaxReorgDepth:      100,
		MaxForkDistance:    6,
		UtxoLookback:       1000,
		ForkPruneAge:       24 * time.Hour,
		MaxInvalidAttempts: DefaultMaxInvalidAttempts,
		InvalidRetention:   DefaultInvalidRetention,
	}
}

// Validate rejects configurations whose bounds contradict each other.
func (c Config) Validate() error {
	if c.MaxReorgDepth == 0 {
		return errors.New("max reorg depth must be positive")
	}
	if c.MaxForkDistance == 0 {
		return errors.New("max fork distance must be positive")
	}
	if c.UtxoLookback <= c.MaxReorgDepth {
		return fmt.Errorf("utxo lookback (%d) must exceed max reorg depth (%d)",
			c.UtxoLookback, c.MaxReorgDepth)
	}
	return nil
}

// maxWorkCacheEntries caps the memoized chain-work map; entries are
// recomputable from the store, so the cache can be dropped freely.
const maxWorkCacheEntries = 10000

// ChainState is the consensus engine: it decides which chain of blocks
// is the active one, keeps the UTXO set consistent with it, and tracks
// the competing forks it has seen.
//
// All mutation happens under a single write lock; queries take the read
// lock. Persisted mutations for a tip change go through one storage
// transaction, and in-memory fields are only updated after the commit
// succeeds, so a crash or storage failure can never leave memory ahead
// of disk.
type ChainState struct {
	store       Store
	logger      *zap.Logger
	checkpoints *CheckpointManager
	invalid     *InvalidBlockTracker
	forks       *ForkTracker
	metrics     *metrics.ChainMetrics
	cfg         Config

	mu              sync.RWMutex
	initialized     bool
	currentHeight   uint64
	bestBlockHash   types.Hash
	totalDifficulty uint64
	chainWork       map[types.Hash]*big.Int
	forkPoints      map[types.Hash]time.Time
	reorgCount      uint64
	rejectedReorgs  uint64
	lastBlockTime   time.Time
	lastReorgTime   time.Time
	onReorg         func(ReorganizationEvent)
}

// NewChainState creates the engine over a store. Existing chain
// metadata is loaded; a fresh store stays uninitialized until
// InitGenesis.
func NewChainState(store Store, logger *zap.Logger, checkpoints *CheckpointManager, m *metrics.ChainMetrics, cfg Config) (*ChainState, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chain config: %w", err)
	}
	if checkpoints == nil {
		checkpoints = NewCheckpointManager(logger, "", EnforcementStrict)
	}

	cs := &ChainState{
		store:       store,
		logger:      logger.Named("chain"),
		checkpoints: checkpoints,
		invalid:     NewInvalidBlockTracker(logger, cfg.MaxInvalidAttempts, cfg.InvalidRetention),
		forks:       NewForkTracker(logger),
		metrics:     m,
		cfg:         cfg,
		chainWork:   make(map[types.Hash]*big.Int),
		forkPoints:  make(map[types.Hash]time.Time),
	}

	if err := cs.loadChainMetadata(); err != nil {
		if errors.Is(err, types.ErrGenesisNotFound) {
			cs.logger.Info("Fresh database, awaiting genesis")
			return cs, nil
		}
		return nil, fmt.Errorf("failed to load chain metadata: %w", err)
	}

	return cs, nil
}

func (cs *ChainState) loadChainMetadata() error {
	genesis, err := cs.store.GetGenesisHash()
	if err != nil {
		return err
	}

	best, err := cs.store.GetBestBlockHash()
	if err != nil {
		return err
	}
	height, err := cs.store.GetChainHeight()
	if err != nil {
		return err
	}
	totalDiff, err := cs.store.GetTotalDifficulty()
	if err != nil {
		return err
	}

	cs.bestBlockHash = best
	cs.currentHeight = height
	cs.totalDifficulty = totalDiff
	cs.initialized = true

	cs.logger.Info("Chain state loaded",
		zap.Uint64("height", height),
		zap.String("best_hash", best.Short()),
		zap.String("genesis", genesis.Short()),
		zap.Uint64("total_difficulty", totalDiff))

	return nil
}

// InitGenesis installs the genesis block on a fresh store. Re-running
// against the same genesis is a no-op; a different genesis is refused.
func (cs *ChainState) InitGenesis(genesis *types.Block) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if genesis == nil || !genesis.IsGenesis() {
		return fmt.Errorf("%w: not a genesis block", types.ErrInvalidBlockHash)
	}
	if err := genesis.Validate(); err != nil {
		return fmt.Errorf("invalid genesis block: %w", err)
	}

	if cs.initialized {
		stored, err := cs.store.GetGenesisHash()
		if err != nil {
			return err
		}
		if stored != genesis.Header.Hash {
			return fmt.Errorf("%w: store initialized with different genesis", types.ErrNoCommonAncestor)
		}
		return nil
	}

	if err := cs.store.BeginTransaction(); err != nil {
		return err
	}

	diff := BlockDifficulty(genesis.Header.Target)
	if err := cs.store.PutBlock(genesis); err != nil {
		cs.rollback()
		return fmt.Errorf("failed to store genesis: %w", err)
	}
	if err := applyBlockTransactions(cs.store, genesis); err != nil {
		cs.rollback()
		return fmt.Errorf("failed to apply genesis transactions: %w", err)
	}
	if err := cs.persistTipMetadata(0, genesis.Header.Hash, diff); err != nil {
		cs.rollback()
		return err
	}
	if err := cs.store.PutGenesisHash(genesis.Header.Hash); err != nil {
		cs.rollback()
		return fmt.Errorf("failed to store genesis hash: %w", err)
	}
	if err := cs.store.CommitTransaction(); err != nil {
		return fmt.Errorf("failed to commit genesis: %w", err)
	}

	cs.initialized = true
	cs.currentHeight = 0
	cs.bestBlockHash = genesis.Header.Hash
	cs.totalDifficulty = diff
	cs.chainWork[genesis.Header.Hash] = BlockWork(genesis.Header.Target)
	cs.lastBlockTime = time.Now()

	cs.logger.Info("Genesis block installed",
		zap.String("hash", genesis.Header.Hash.Short()))
	cs.metrics.SetChainHeight(0)

	return nil
}

// ProcessBlock runs a block through the full consensus pipeline:
// invalid-ancestry and duplicate checks, structural validation, the
// checkpoint oracle, chain-work calculation, and finally either a tip
// extension, a side-chain registration, or a reorganization.
//
// The bool result reports whether the block ended up on the active
// chain. A stored side-chain block that did not win fork choice returns
// (false, nil), as does a block already refused permanently.
func (cs *ChainState) ProcessBlock(block *types.Block) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	start := time.Now()
	defer func() {
		cs.metrics.ObserveBlockProcessing(time.Since(start))
	}()

	if block == nil || block.Header == nil {
		return false, fmt.Errorf("%w: nil block", types.ErrInvalidBlockHash)
	}
	if !cs.initialized {
		return false, types.ErrGenesisNotFound
	}

	hash := block.Header.Hash
	height := block.Header.Height
	parent := block.Header.PrevBlockHash

	// Staleness metrics track arrivals, not acceptances.
	cs.lastBlockTime = start

	// Invalid ancestry is checked before anything else so a block that
	// exhausted its attempts is refused without re-validation.
	if cs.invalid.IsPermanentlyInvalid(hash) {
		cs.metrics.RecordBlockRejected("permanently_invalid")
		cs.logger.Debug("Permanently invalid block refused", zap.String("hash", hash.Short()))
		return false, nil
	}

	// Duplicates are a silent no-op.
	stored, err := cs.store.HasBlock(hash)
	if err != nil {
		return false, err
	}
	if stored {
		cs.logger.Debug("Duplicate block ignored", zap.String("hash", hash.Short()))
		return false, nil
	}

	cs.invalid.Observe(hash, parent)

	if cs.invalid.IsInvalid(parent) {
		cs.invalid.MarkInvalid(hash, height, StructuralReason(ReasonParentInvalid))
		cs.metrics.RecordBlockRejected(ReasonParentInvalid.String())
		return false, types.ErrParentInvalid
	}

	if err := block.Validate(); err != nil {
		cs.invalid.MarkInvalid(hash, height, StructuralReason(ReasonInvalidStructure))
		cs.metrics.RecordBlockRejected(ReasonInvalidStructure.String())
		return false, fmt.Errorf("structural validation failed: %w", err)
	}

	if err := cs.checkpoints.ValidateBlock(height, hash); err != nil {
		cs.invalid.MarkInvalid(hash, height, StructuralReason(ReasonCheckpointViolation))
		cs.metrics.RecordBlockRejected(ReasonCheckpointViolation.String())
		return false, err
	}

	if block.IsGenesis() {
		// A second, different genesis shares no history with ours.
		return false, types.ErrNoCommonAncestor
	}

	hasParent, err := cs.store.HasBlock(parent)
	if err != nil {
		return false, err
	}
	if !hasParent {
		dist := forkDistance(cs.currentHeight, height)
		if dist > cs.cfg.MaxForkDistance {
			cs.invalid.MarkInvalid(hash, height, StructuralReason(ReasonForkTooDeep))
			cs.metrics.RecordBlockRejected(ReasonForkTooDeep.String())
			return false, fmt.Errorf("%w: distance %d exceeds %d",
				types.ErrForkTooDistant, dist, cs.cfg.MaxForkDistance)
		}
		return false, types.ErrOrphanBlock
	}

	newWork, err := cs.calculateChainWork(block)
	if err != nil {
		return false, err
	}

	// Structurally valid with known ancestry: the block is stored even
	// if it does not win fork choice, so later reorganizations can
	// reach it.
	if err := cs.store.PutBlock(block); err != nil {
		return false, fmt.Errorf("failed to store block: %w", err)
	}

	now := time.Now()

	if parent == cs.bestBlockHash {
		if err := cs.connectTip(block); err != nil {
			return false, err
		}
		cs.metrics.RecordBlockAdded()
		cs.metrics.SetChainHeight(cs.currentHeight)
		cs.logger.Info("Block added",
			zap.Uint64("height", height),
			zap.String("hash", hash.Short()),
			zap.Int("transactions", len(block.Transactions)))
		return true, nil
	}

	// Side chain: track the fork, then let chain work decide.
	fork := cs.forks.Observe(block, height-1, newWork, now)
	cs.forkPoints[fork.BranchPoint] = now
	cs.metrics.SetActiveForks(cs.forks.ActiveCount())

	bestWork := cs.bestChainWork()
	if newWork.Cmp(bestWork) > 0 {
		adopted, err := cs.handleChainReorganization(block, newWork, ChoiceHigherChainWork)
		if adopted {
			cs.metrics.SetActiveForks(cs.forks.ActiveCount())
		}
		return adopted, err
	}

	reason := ChoiceHigherChainWork
	if newWork.Cmp(bestWork) == 0 {
		// Equal work: the chain seen first stays active.
		reason = ChoiceFirstSeen
	}
	cs.logger.Debug("Side-chain block stored",
		zap.Uint64("height", height),
		zap.String("hash", hash.Short()),
		zap.String("kept_by", reason.String()))

	return false, nil
}

// connectTip extends the active chain by one block inside a storage
// transaction.
//
// Caller holds the write lock.
func (cs *ChainState) connectTip(block *types.Block) error {
	if err := cs.store.BeginTransaction(); err != nil {
		return err
	}

	if err := applyBlockTransactions(cs.store, block); err != nil {
		cs.rollback()
		var txErr *txValidationError
		if errors.As(err, &txErr) {
			cs.invalid.MarkInvalid(block.Header.Hash, block.Header.Height, TxReason(txErr.index))
			cs.invalid.MarkDescendantsInvalid(block.Header.Hash, block.Header.Height)
			cs.metrics.RecordBlockRejected(ReasonTransactionValidation.String())
		}
		return err
	}

	totalDiff := saturatingAdd(cs.totalDifficulty, BlockDifficulty(block.Header.Target))
	if err := cs.persistTipMetadata(block.Header.Height, block.Header.Hash, totalDiff); err != nil {
		cs.rollback()
		return err
	}

	if err := cs.store.CommitTransaction(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}

	cs.currentHeight = block.Header.Height
	cs.bestBlockHash = block.Header.Hash
	cs.totalDifficulty = totalDiff

	return nil
}

// bestChainWork returns the cumulative work of the active chain,
// memoizing through calculateChainWork when the cache is cold (for
// example right after a restart).
//
// Caller holds the write lock.
func (cs *ChainState) bestChainWork() *big.Int {
	if work, ok := cs.chainWork[cs.bestBlockHash]; ok {
		return new(big.Int).Set(work)
	}
	best, err := cs.store.GetBlock(cs.bestBlockHash)
	if err != nil {
		cs.logger.Error("Failed to load best block for work calculation",
			zap.String("hash", cs.bestBlockHash.Short()),
			zap.Error(err))
		return big.NewInt(0)
	}
	work, err := cs.calculateChainWork(best)
	if err != nil {
		cs.logger.Error("Failed to compute best chain work", zap.Error(err))
		return big.NewInt(0)
	}
	return work
}

// forkDistance is how far a block's claimed height sits from the
// current tip.
func forkDistance(tipHeight, blockHeight uint64) uint64 {
	if blockHeight > tipHeight {
		return blockHeight - tipHeight
	}
	return tipHeight - blockHeight
}

// OnReorganization registers a listener invoked after every completed
// reorganization, under the write lock. Keep it fast.
func (cs *ChainState) OnReorganization(fn func(ReorganizationEvent)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.onReorg = fn
}

// GetHeight returns the active chain height.
func (cs *ChainState) GetHeight() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.currentHeight
}

// GetBestBlockHash returns the active tip hash.
func (cs *ChainState) GetBestBlockHash() types.Hash {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.bestBlockHash
}

// GetTotalDifficulty returns the cumulative difficulty of the active
// chain.
func (cs *ChainState) GetTotalDifficulty() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.totalDifficulty
}

// GetBlock retrieves any stored block by hash, active chain or not.
func (cs *ChainState) GetBlock(hash types.Hash) (*types.Block, error) {
	return cs.store.GetBlock(hash)
}

// GetBlockAtHeight returns the active-chain block at the given height,
// walking back from the tip. Side-chain blocks are never returned.
func (cs *ChainState) GetBlockAtHeight(height uint64) (*types.Block, error) {
	cs.mu.RLock()
	tip := cs.bestBlockHash
	tipHeight := cs.currentHeight
	initialized := cs.initialized
	cs.mu.RUnlock()

	if !initialized || height > tipHeight {
		return nil, types.ErrBlockNotFound
	}

	block, err := cs.store.GetBlock(tip)
	if err != nil {
		return nil, err
	}
	for block.Header.Height > height {
		block, err = cs.store.GetBlock(block.Header.PrevBlockHash)
		if err != nil {
			return nil, err
		}
	}
	return block, nil
}

// GetForks returns the tracked competing chains.
func (cs *ChainState) GetForks() []*ForkInfo {
	return cs.forks.Snapshot()
}

// InvalidStatistics returns a snapshot of the invalid-block tracker.
func (cs *ChainState) InvalidStatistics() InvalidationStatistics {
	return cs.invalid.Statistics()
}

// CalculateForkMetrics summarizes fork activity for the operational
// surface.
func (cs *ChainState) CalculateForkMetrics() map[string]uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var sinceLastBlock uint64
	if !cs.lastBlockTime.IsZero() {
		sinceLastBlock = uint64(time.Since(cs.lastBlockTime).Seconds())
	}

	return map[string]uint64{
		"main_chain_height":       cs.currentHeight,
		"active_forks":            uint64(cs.forks.ActiveCount()),
		"reorg_count":             cs.reorgCount,
		"rejected_reorgs":         cs.rejectedReorgs,
		"max_fork_length":         cs.forks.MaxLength(),
		"seconds_since_last_block": sinceLastBlock,
	}
}

// PruneForkPoints drops stale fork state: tracked forks that are both
// old and far behind, fork-point observations past the prune age, aged
// invalid records, and an oversized work cache.
func (cs *ChainState) PruneForkPoints(now time.Time) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	removed := cs.forks.Prune(now, cs.currentHeight, cs.cfg.ForkPruneAge, cs.cfg.MaxForkDistance)

	for point, seen := range cs.forkPoints {
		if now.Sub(seen) > cs.cfg.ForkPruneAge {
			delete(cs.forkPoints, point)
		}
	}

	cs.invalid.Cleanup(now, func(h types.Hash) bool {
		ok, err := cs.store.HasBlock(h)
		return err == nil && ok
	})

	if len(cs.chainWork) > maxWorkCacheEntries {
		kept := make(map[types.Hash]*big.Int)
		if work, ok := cs.chainWork[cs.bestBlockHash]; ok {
			kept[cs.bestBlockHash] = work
		}
		for _, fork := range cs.forks.Snapshot() {
			if work, ok := cs.chainWork[fork.TipHash]; ok {
				kept[fork.TipHash] = work
			}
		}
		cs.logger.Debug("Work cache trimmed",
			zap.Int("before", len(cs.chainWork)),
			zap.Int("after", len(kept)))
		cs.chainWork = kept
	}

	cs.metrics.SetActiveForks(cs.forks.ActiveCount())
	return removed
}
