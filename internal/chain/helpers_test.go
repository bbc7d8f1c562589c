package chain

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// memStore is an in-memory Store with snapshot-based transactions and
// fault injection, standing in for the badger wrapper in tests.
type memStore struct {
	blocks    map[types.Hash]*types.Block
	utxos     map[types.OutPoint]*types.TxOutput
	height    uint64
	best      types.Hash
	totalDiff uint64
	genesis   types.Hash
	hasMeta   bool

	inTxn bool
	snap  *memSnapshot

	// Fault injection: fail the Nth PutUTXO call (1-based), or the
	// next commit.
	failPutUTXOAt int
	putUTXOCalls  int
	failCommit    bool
}

type memSnapshot struct {
	blocks    map[types.Hash]*types.Block
	utxos     map[types.OutPoint]*types.TxOutput
	height    uint64
	best      types.Hash
	totalDiff uint64
	genesis   types.Hash
	hasMeta   bool
}

func newMemStore() *memStore {
	return &memStore{
		blocks: make(map[types.Hash]*types.Block),
		utxos:  make(map[types.OutPoint]*types.TxOutput),
	}
}

func (m *memStore) snapshot() *memSnapshot {
	blocks := make(map[types.Hash]*types.Block, len(m.blocks))
	for k, v := range m.blocks {
		blocks[k] = v
	}
	utxos := make(map[types.OutPoint]*types.TxOutput, len(m.utxos))
	for k, v := range m.utxos {
		utxos[k] = v
	}
	return &memSnapshot{
		blocks:    blocks,
		utxos:     utxos,
		height:    m.height,
		best:      m.best,
		totalDiff: m.totalDiff,
		genesis:   m.genesis,
		hasMeta:   m.hasMeta,
	}
}

func (m *memStore) restore(s *memSnapshot) {
	m.blocks = s.blocks
	m.utxos = s.utxos
	m.height = s.height
	m.best = s.best
	m.totalDiff = s.totalDiff
	m.genesis = s.genesis
	m.hasMeta = s.hasMeta
}

func (m *memStore) PutBlock(b *types.Block) error {
	m.blocks[b.Header.Hash] = b
	return nil
}

func (m *memStore) GetBlock(hash types.Hash) (*types.Block, error) {
	b, ok := m.blocks[hash]
	if !ok {
		return nil, types.ErrBlockNotFound
	}
	return b, nil
}

func (m *memStore) HasBlock(hash types.Hash) (bool, error) {
	_, ok := m.blocks[hash]
	return ok, nil
}

func (m *memStore) PutUTXO(op types.OutPoint, out *types.TxOutput) error {
	m.putUTXOCalls++
	if m.failPutUTXOAt > 0 && m.putUTXOCalls == m.failPutUTXOAt {
		return errors.New("injected storage failure")
	}
	m.utxos[op] = out
	return nil
}

func (m *memStore) GetUTXO(op types.OutPoint) (*types.TxOutput, error) {
	out, ok := m.utxos[op]
	if !ok {
		return nil, types.ErrUTXONotFound
	}
	return out, nil
}

func (m *memStore) HasUTXO(op types.OutPoint) (bool, error) {
	_, ok := m.utxos[op]
	return ok, nil
}

func (m *memStore) DeleteUTXO(op types.OutPoint) error {
	delete(m.utxos, op)
	return nil
}

func (m *memStore) PutChainHeight(h uint64) error {
	m.height = h
	return nil
}

func (m *memStore) GetChainHeight() (uint64, error) {
	return m.height, nil
}

func (m *memStore) PutBestBlockHash(hash types.Hash) error {
	m.best = hash
	return nil
}

func (m *memStore) GetBestBlockHash() (types.Hash, error) {
	if !m.hasMeta {
		return types.ZeroHash, types.ErrChainTipNotFound
	}
	return m.best, nil
}

func (m *memStore) PutTotalDifficulty(d uint64) error {
	m.totalDiff = d
	return nil
}

func (m *memStore) GetTotalDifficulty() (uint64, error) {
	return m.totalDiff, nil
}

func (m *memStore) PutGenesisHash(hash types.Hash) error {
	m.genesis = hash
	m.hasMeta = true
	return nil
}

func (m *memStore) GetGenesisHash() (types.Hash, error) {
	if !m.hasMeta {
		return types.ZeroHash, types.ErrGenesisNotFound
	}
	return m.genesis, nil
}

func (m *memStore) BeginTransaction() error {
	if m.inTxn {
		return types.ErrTxnInProgress
	}
	m.inTxn = true
	m.snap = m.snapshot()
	return nil
}

func (m *memStore) CommitTransaction() error {
	if !m.inTxn {
		return types.ErrNoTransaction
	}
	m.inTxn = false
	if m.failCommit {
		m.failCommit = false
		m.restore(m.snap)
		m.snap = nil
		return errors.New("injected commit failure")
	}
	m.snap = nil
	return nil
}

func (m *memStore) RollbackTransaction() error {
	if !m.inTxn {
		return types.ErrNoTransaction
	}
	m.inTxn = false
	m.restore(m.snap)
	m.snap = nil
	return nil
}

// Test chain construction helpers.

// childBlock builds a valid block on top of parent. The nonce keeps
// competing blocks at the same height distinct; miner tags keep
// coinbase hashes distinct across branches.
func childBlock(parent *types.Block, target uint32, nonce uint64, miner string, extraTxs ...*types.Transaction) *types.Block {
	height := parent.Header.Height + 1
	txs := []*types.Transaction{
		types.NewCoinbaseTransaction(height, 50, []byte(miner)),
	}
	txs = append(txs, extraTxs...)

	b := types.NewBlock(parent.Header.Hash, height, txs, target)
	b.Header.Nonce = nonce
	b.Header.Hash = types.ComputeBlockHash(b.Header)
	return b
}

// buildChain extends parent with n blocks of the given target.
func buildChain(parent *types.Block, n int, target uint32, miner string) []*types.Block {
	blocks := make([]*types.Block, 0, n)
	cur := parent
	for i := 0; i < n; i++ {
		cur = childBlock(cur, target, uint64(i), miner)
		blocks = append(blocks, cur)
	}
	return blocks
}

// spendTx spends a coinbase output from a prior transaction.
func spendTx(prev *types.Transaction, index uint32, value uint64, dest string) *types.Transaction {
	return &types.Transaction{
		Version: 1,
		Inputs: []*types.TxInput{{
			PrevTxHash:      prev.Hash(),
			PrevOutputIndex: index,
		}},
		Outputs: []*types.TxOutput{{
			Value:        value,
			ScriptPubKey: []byte(dest),
		}},
	}
}

// newTestChainState wires a ChainState over a fresh memStore with the
// genesis installed.
func newTestChainState(t *testing.T, cfg Config) (*ChainState, *memStore, *types.Block) {
	t.Helper()

	store := newMemStore()
	cs, err := NewChainState(store, zap.NewNop(), nil, nil, cfg)
	if err != nil {
		t.Fatalf("NewChainState: %v", err)
	}

	genesis := types.NewGenesisBlock()
	if err := cs.InitGenesis(genesis); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	return cs, store, genesis
}

// testConfig keeps bounds small enough for compact test chains.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxReorgDepth = 10
	cfg.UtxoLookback = 50
	return cfg
}
