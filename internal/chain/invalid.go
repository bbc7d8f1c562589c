package chain

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// InvalidationKind classifies why a block was rejected.
type InvalidationKind int

const (
	// ReasonInvalidStructure marks a block that failed structural
	// validation: bad hash, bad merkle root, malformed transactions.
	ReasonInvalidStructure InvalidationKind = iota
	// ReasonParentInvalid marks a block whose parent is known invalid.
	ReasonParentInvalid
	// ReasonCheckpointViolation marks a block conflicting with a
	// checkpoint, or a fork attempting to rewrite checkpointed history.
	ReasonCheckpointViolation
	// ReasonForkTooDeep marks a block whose fork point is further from
	// the active tip than the node tolerates.
	ReasonForkTooDeep
	// ReasonTransactionValidation marks a block rejected because one of
	// its transactions failed contextual validation.
	ReasonTransactionValidation
)

func (k InvalidationKind) String() string {
	switch k {
	case ReasonInvalidStructure:
		return "invalid_structure"
	case ReasonParentInvalid:
		return "parent_invalid"
	case ReasonCheckpointViolation:
		return "checkpoint_violation"
	case ReasonForkTooDeep:
		return "fork_too_deep"
	case ReasonTransactionValidation:
		return "transaction_validation"
	default:
		return "unknown"
	}
}

// InvalidationReason couples the kind with the offending transaction
// index for transaction failures (-1 otherwise).
type InvalidationReason struct {
	Kind    InvalidationKind
	TxIndex int
}

func (r InvalidationReason) String() string {
	if r.Kind == ReasonTransactionValidation {
		return fmt.Sprintf("%s(tx=%d)", r.Kind, r.TxIndex)
	}
	return r.Kind.String()
}

// StructuralReason is shorthand for a reason without a transaction index.
func StructuralReason(kind InvalidationKind) InvalidationReason {
	return InvalidationReason{Kind: kind, TxIndex: -1}
}

// TxReason builds a transaction-validation reason.
func TxReason(index int) InvalidationReason {
	return InvalidationReason{Kind: ReasonTransactionValidation, TxIndex: index}
}

// invalidRecord is the tracked state of one rejected block.
type invalidRecord struct {
	hash      types.Hash
	height    uint64
	reason    InvalidationReason
	firstSeen time.Time
	attempts  int
	permanent bool
}

// InvalidationStatistics is a point-in-time summary of the tracker.
type InvalidationStatistics struct {
	Total     int
	Permanent int
	ByReason  map[string]int
}

// InvalidBlockTracker remembers rejected blocks so repeat submissions
// are refused cheaply and descendants of bad blocks are rejected
// without re-validation. A block re-submitted maxAttempts times becomes
// permanently invalid.
type InvalidBlockTracker struct {
	mu          sync.RWMutex
	records     map[types.Hash]*invalidRecord
	children    map[types.Hash][]types.Hash
	maxAttempts int
	retention   time.Duration
	logger      *zap.Logger
}

const (
	// DefaultMaxInvalidAttempts is how many rejections a block gets
	// before it is refused permanently.
	DefaultMaxInvalidAttempts = 3
	// DefaultInvalidRetention is how long non-permanent records are
	// kept before cleanup.
	DefaultInvalidRetention = 24 * time.Hour
)

// NewInvalidBlockTracker creates an empty tracker.
func NewInvalidBlockTracker(logger *zap.Logger, maxAttempts int, retention time.Duration) *InvalidBlockTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxInvalidAttempts
	}
	if retention <= 0 {
		retention = DefaultInvalidRetention
	}
	return &InvalidBlockTracker{
		records:     make(map[types.Hash]*invalidRecord),
		children:    make(map[types.Hash][]types.Hash),
		maxAttempts: maxAttempts,
		retention:   retention,
		logger:      logger,
	}
}

// Observe records block ancestry so MarkDescendantsInvalid can walk the
// tree later. Called for every block that reaches the engine, valid or
// not.
func (t *InvalidBlockTracker) Observe(hash, parent types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.children[parent] {
		if existing == hash {
			return
		}
	}
	t.children[parent] = append(t.children[parent], hash)
}

// MarkInvalid records a rejection. Repeated calls for the same block
// bump the attempt count; at the limit the block becomes permanent.
func (t *InvalidBlockTracker) MarkInvalid(hash types.Hash, height uint64, reason InvalidationReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.markLocked(hash, height, reason)
}

func (t *InvalidBlockTracker) markLocked(hash types.Hash, height uint64, reason InvalidationReason) {
	rec, exists := t.records[hash]
	if !exists {
		rec = &invalidRecord{
			hash:      hash,
			height:    height,
			reason:    reason,
			firstSeen: time.Now(),
		}
		t.records[hash] = rec
	}

	rec.attempts++
	if rec.attempts >= t.maxAttempts {
		rec.permanent = true
	}

	t.logger.Debug("Block marked invalid",
		zap.String("hash", hash.Short()),
		zap.Uint64("height", height),
		zap.String("reason", reason.String()),
		zap.Int("attempts", rec.attempts),
		zap.Bool("permanent", rec.permanent))
}

// MarkDescendantsInvalid walks every known descendant of root and marks
// it ParentInvalid. Returns the number of blocks marked.
func (t *InvalidBlockTracker) MarkDescendantsInvalid(root types.Hash, rootHeight uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	marked := 0
	queue := append([]types.Hash(nil), t.children[root]...)
	height := rootHeight + 1

	for len(queue) > 0 {
		var next []types.Hash
		for _, hash := range queue {
			if _, already := t.records[hash]; !already {
				t.markLocked(hash, height, StructuralReason(ReasonParentInvalid))
				marked++
			}
			next = append(next, t.children[hash]...)
		}
		queue = next
		height++
	}

	return marked
}

// IsInvalid reports whether a block has any invalid record.
func (t *InvalidBlockTracker) IsInvalid(hash types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, exists := t.records[hash]
	return exists
}

// IsPermanentlyInvalid reports whether a block has exhausted its
// attempts.
func (t *InvalidBlockTracker) IsPermanentlyInvalid(hash types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.records[hash]
	return exists && rec.permanent
}

// Reason returns the recorded rejection reason for a block.
func (t *InvalidBlockTracker) Reason(hash types.Hash) (InvalidationReason, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.records[hash]
	if !exists {
		return InvalidationReason{}, false
	}
	return rec.reason, true
}

// CleanupOrphans drops ancestry entries rooted at the given blocks and
// the non-permanent records of their known descendants. Called with the
// hashes a reorganization disconnected: records that only made sense on
// the displaced chain would otherwise linger until retention expiry.
// Permanent records survive, they are terminal regardless of chain.
// Returns the number of records removed.
func (t *InvalidBlockTracker) CleanupOrphans(roots []types.Hash) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	queue := append([]types.Hash(nil), roots...)
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]

		queue = append(queue, t.children[hash]...)
		delete(t.children, hash)

		if rec, ok := t.records[hash]; ok && !rec.permanent {
			delete(t.records, hash)
			removed++
		}
	}

	if removed > 0 {
		t.logger.Debug("Orphaned invalid records dropped", zap.Int("removed", removed))
	}
	return removed
}

// Cleanup drops non-permanent records older than the retention window
// and ancestry entries for blocks no longer live. Returns the number of
// records removed.
func (t *InvalidBlockTracker) Cleanup(now time.Time, isLive func(types.Hash) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for hash, rec := range t.records {
		if rec.permanent {
			continue
		}
		if now.Sub(rec.firstSeen) > t.retention {
			delete(t.records, hash)
			removed++
		}
	}

	if isLive != nil {
		for parent := range t.children {
			if _, invalid := t.records[parent]; invalid {
				continue
			}
			if !isLive(parent) {
				delete(t.children, parent)
			}
		}
	}

	if removed > 0 {
		t.logger.Debug("Invalid block records cleaned up", zap.Int("removed", removed))
	}
	return removed
}

// Statistics returns a snapshot of tracker contents.
func (t *InvalidBlockTracker) Statistics() InvalidationStatistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := InvalidationStatistics{
		ByReason: make(map[string]int),
	}
	for _, rec := range t.records {
		stats.Total++
		if rec.permanent {
			stats.Permanent++
		}
		stats.ByReason[rec.reason.Kind.String()]++
	}
	return stats
}
