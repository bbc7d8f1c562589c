package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// CheckpointEnforcement controls how checkpoint conflicts are handled.
type CheckpointEnforcement int

const (
	// EnforcementStrict rejects blocks and reorganizations that
	// conflict with a checkpoint.
	EnforcementStrict CheckpointEnforcement = iota
	// EnforcementWarn logs conflicts but allows them.
	EnforcementWarn
	// EnforcementDisabled ignores checkpoints entirely.
	EnforcementDisabled
)

func (e CheckpointEnforcement) String() string {
	switch e {
	case EnforcementStrict:
		return "strict"
	case EnforcementWarn:
		return "warn"
	case EnforcementDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Checkpoint pins a known-good block hash at a height. Blocks at or
// below the highest checkpoint are immutable: no reorganization may
// disconnect them.
type Checkpoint struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"` // Hex string for JSON compatibility
	Timestamp int64  `json:"timestamp"`
}

// CheckpointManager holds the static checkpoint set and answers the two
// questions the chain state asks: does this block conflict with a
// checkpoint, and may a reorganization fork below this height.
type CheckpointManager struct {
	checkpoints map[uint64]*Checkpoint
	latest      *Checkpoint
	enforcement CheckpointEnforcement
	mu          sync.RWMutex
	logger      *zap.Logger
	file        string
}

// NewCheckpointManager creates a checkpoint manager, loading the
// checkpoint set from file when one is configured. A missing or
// unreadable file leaves the set empty, which disables the floor.
func NewCheckpointManager(logger *zap.Logger, file string, enforcement CheckpointEnforcement) *CheckpointManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := &CheckpointManager{
		checkpoints: make(map[uint64]*Checkpoint),
		enforcement: enforcement,
		logger:      logger,
		file:        file,
	}

	if file != "" {
		if err := cm.loadCheckpoints(); err != nil {
			logger.Warn("Failed to load checkpoints, starting with empty set",
				zap.String("file", file),
				zap.Error(err))
		}
	}

	return cm
}

func (cm *CheckpointManager) loadCheckpoints() error {
	data, err := os.ReadFile(cm.file)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoints []*Checkpoint
	if err := json.Unmarshal(data, &checkpoints); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoints: %w", err)
	}

	for _, cp := range checkpoints {
		cm.checkpoints[cp.Height] = cp
		if cm.latest == nil || cp.Height > cm.latest.Height {
			cm.latest = cp
		}
	}

	cm.logger.Info("Loaded checkpoints",
		zap.Int("count", len(cm.checkpoints)),
		zap.Uint64("latest_height", cm.MaxCheckpointHeight()))

	return nil
}

// SaveCheckpoints writes the checkpoint set back to the configured file.
func (cm *CheckpointManager) SaveCheckpoints() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.file == "" {
		return nil
	}

	checkpoints := make([]*Checkpoint, 0, len(cm.checkpoints))
	for _, cp := range cm.checkpoints {
		checkpoints = append(checkpoints, cp)
	}

	data, err := json.MarshalIndent(checkpoints, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoints: %w", err)
	}

	if err := os.WriteFile(cm.file, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	return nil
}

// AddCheckpoint pins a hash at a height.
func (cm *CheckpointManager) AddCheckpoint(height uint64, hash types.Hash, timestamp int64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cp := &Checkpoint{
		Height:    height,
		Hash:      hash.String(),
		Timestamp: timestamp,
	}
	cm.checkpoints[height] = cp

	if cm.latest == nil || height > cm.latest.Height {
		cm.latest = cp
	}

	cm.logger.Info("Checkpoint added",
		zap.Uint64("height", height),
		zap.String("hash", hash.Short()))
}

// ValidateBlock checks a block hash against the checkpoint at its
// height, if any. Under warn enforcement a conflict is logged and
// allowed.
func (cm *CheckpointManager) ValidateBlock(height uint64, hash types.Hash) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.enforcement == EnforcementDisabled {
		return nil
	}

	cp, exists := cm.checkpoints[height]
	if !exists {
		return nil
	}

	if cp.Hash == hash.String() {
		return nil
	}

	if cm.enforcement == EnforcementWarn {
		cm.logger.Warn("Block conflicts with checkpoint, allowed by policy",
			zap.Uint64("height", height),
			zap.String("expected", cp.Hash),
			zap.String("got", hash.String()))
		return nil
	}

	return fmt.Errorf("%w: height %d expected %s got %s",
		types.ErrCheckpointMismatch, height, cp.Hash, hash.String())
}

// CanReorganizeBelow reports whether a reorganization whose fork point
// sits at forkHeight is allowed. The fork point must be strictly above
// the highest checkpoint: a fork point at the checkpoint height would
// disconnect the checkpointed block's descendants and leave the
// checkpoint itself reorganizable.
func (cm *CheckpointManager) CanReorganizeBelow(forkHeight uint64) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.enforcement != EnforcementStrict || cm.latest == nil {
		return true
	}

	return forkHeight > cm.latest.Height
}

// MaxCheckpointHeight returns the height of the highest checkpoint, or
// zero when the set is empty.
func (cm *CheckpointManager) MaxCheckpointHeight() uint64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.latest == nil {
		return 0
	}
	return cm.latest.Height
}

// NearestCheckpoint returns the highest checkpoint at or below the
// given height, or nil.
func (cm *CheckpointManager) NearestCheckpoint(height uint64) *Checkpoint {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var best *Checkpoint
	for h, cp := range cm.checkpoints {
		if h <= height && (best == nil || h > best.Height) {
			best = cp
		}
	}
	if best == nil {
		return nil
	}
	cloned := *best
	return &cloned
}

// IsCheckpoint returns true if the given height is a checkpoint
func (cm *CheckpointManager) IsCheckpoint(height uint64) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	_, exists := cm.checkpoints[height]
	return exists
}
