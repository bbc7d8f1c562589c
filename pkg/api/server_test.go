package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioscoin/helios-blockchain/internal/chain"
	"github.com/helioscoin/helios-blockchain/internal/storage"
	"github.com/helioscoin/helios-blockchain/internal/types"
)

func newTestServer(t *testing.T, cfg *Config) (*Server, *chain.ChainState, *types.Block) {
	t.Helper()

	db, err := storage.NewDB(&storage.DBConfig{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cs, err := chain.NewChainState(db, nil, nil, nil, chain.DefaultConfig())
	require.NoError(t, err)

	genesis := types.NewGenesisBlock()
	require.NoError(t, cs.InitGenesis(genesis))

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ChainState = cs
	return NewServer(cfg), cs, genesis
}

func extendChain(t *testing.T, cs *chain.ChainState, parent *types.Block, n int) []*types.Block {
	t.Helper()

	blocks := make([]*types.Block, 0, n)
	cur := parent
	for i := 0; i < n; i++ {
		height := cur.Header.Height + 1
		cur = types.NewBlock(cur.Header.Hash, height, []*types.Transaction{
			types.NewCoinbaseTransaction(height, 50, []byte("miner")),
		}, types.InitialTarget)
		adopted, err := cs.ProcessBlock(cur)
		require.NoError(t, err)
		require.True(t, adopted)
		blocks = append(blocks, cur)
	}
	return blocks
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:12345"
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := doGet(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHeightAndTipEndpoints(t *testing.T) {
	s, cs, genesis := newTestServer(t, nil)
	blocks := extendChain(t, cs, genesis, 2)

	rec := doGet(t, s, "/chain/height")
	require.Equal(t, http.StatusOK, rec.Code)
	var height heightResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &height))
	assert.Equal(t, uint64(2), height.Height)
	assert.NotZero(t, height.TotalDifficulty)

	rec = doGet(t, s, "/chain/tip")
	require.Equal(t, http.StatusOK, rec.Code)
	var tip tipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tip))
	assert.Equal(t, blocks[1].Header.Hash.String(), tip.Hash)
	assert.Equal(t, uint64(2), tip.Height)
}

func TestBlockByHashEndpoint(t *testing.T) {
	s, cs, genesis := newTestServer(t, nil)
	blocks := extendChain(t, cs, genesis, 1)

	rec := doGet(t, s, "/chain/block/"+blocks[0].Header.Hash.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var block types.Block
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &block))
	assert.Equal(t, blocks[0].Header.Hash, block.Header.Hash)

	rec = doGet(t, s, "/chain/block/nothex")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, s, "/chain/block/"+types.Hash{0xff}.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlockByHeightEndpoint(t *testing.T) {
	s, cs, genesis := newTestServer(t, nil)
	extendChain(t, cs, genesis, 2)

	rec := doGet(t, s, "/chain/height/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var block types.Block
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &block))
	assert.Equal(t, uint64(1), block.Header.Height)

	rec = doGet(t, s, "/chain/height/notanumber")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, s, "/chain/height/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForkMetricsEndpoint(t *testing.T) {
	s, cs, genesis := newTestServer(t, nil)
	extendChain(t, cs, genesis, 1)

	rec := doGet(t, s, "/chain/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var m map[string]uint64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, uint64(1), m["main_chain_height"])
	assert.Contains(t, m, "reorg_count")
	assert.Contains(t, m, "rejected_reorgs")
}

func TestForksEndpoint(t *testing.T) {
	s, cs, genesis := newTestServer(t, nil)
	extendChain(t, cs, genesis, 1)

	// A competing block opens a fork.
	side := types.NewBlock(genesis.Header.Hash, 1, []*types.Transaction{
		types.NewCoinbaseTransaction(1, 50, []byte("rival")),
	}, types.InitialTarget)
	adopted, err := cs.ProcessBlock(side)
	require.NoError(t, err)
	require.False(t, adopted)

	rec := doGet(t, s, "/chain/forks")
	require.Equal(t, http.StatusOK, rec.Code)
	var forks []forkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forks))
	require.Len(t, forks, 1)
	assert.Equal(t, side.Header.Hash.String(), forks[0].TipHash)
	assert.Equal(t, genesis.Header.Hash.String(), forks[0].BranchPoint)
}

func TestInvalidStatsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := doGet(t, s, "/chain/invalid")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats, "total")
	assert.Contains(t, stats, "permanent")
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _, _ := newTestServer(t, &Config{
		RateLimitEnabled: true,
		RateLimitPerSec:  1,
		RateLimitBurst:   2,
	})
	t.Cleanup(func() { s.limiter.Close() })

	assert.Equal(t, http.StatusOK, doGet(t, s, "/chain/height").Code)
	assert.Equal(t, http.StatusOK, doGet(t, s, "/chain/height").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(t, s, "/chain/height").Code)

	// Health stays outside the limited chain.
	assert.Equal(t, http.StatusOK, doGet(t, s, "/health").Code)
}
