// pkg/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

type heightResponse struct {
	Height          uint64 `json:"height"`
	TotalDifficulty uint64 `json:"totalDifficulty"`
}

type tipResponse struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
}

type forkResponse struct {
	TipHash      string    `json:"tipHash"`
	TipHeight    uint64    `json:"tipHeight"`
	BranchPoint  string    `json:"branchPoint"`
	BranchHeight uint64    `json:"branchHeight"`
	Length       uint64    `json:"length"`
	ChainWork    string    `json:"chainWork"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastExtended time.Time `json:"lastExtended"`
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, heightResponse{
		Height:          s.chainState.GetHeight(),
		TotalDifficulty: s.chainState.GetTotalDifficulty(),
	})
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tipResponse{
		Hash:   s.chainState.GetBestBlockHash().String(),
		Height: s.chainState.GetHeight(),
	})
}

// handleBlockByHash serves /chain/block/<hash>.
func (s *Server) handleBlockByHash(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/chain/block/")
	hash, err := types.HashFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block hash")
		return
	}

	block, err := s.chainState.GetBlock(hash)
	if err != nil {
		if errors.Is(err, types.ErrBlockNotFound) {
			writeError(w, http.StatusNotFound, "block not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load block")
		return
	}

	writeJSON(w, http.StatusOK, block)
}

// handleBlockByHeight serves /chain/height/<n> for active-chain blocks.
func (s *Server) handleBlockByHeight(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/chain/height/")
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid height")
		return
	}

	block, err := s.chainState.GetBlockAtHeight(height)
	if err != nil {
		if errors.Is(err, types.ErrBlockNotFound) {
			writeError(w, http.StatusNotFound, "no block at height")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load block")
		return
	}

	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleForks(w http.ResponseWriter, r *http.Request) {
	forks := s.chainState.GetForks()

	out := make([]forkResponse, 0, len(forks))
	for _, f := range forks {
		out = append(out, forkResponse{
			TipHash:      f.TipHash.String(),
			TipHeight:    f.TipHeight,
			BranchPoint:  f.BranchPoint.String(),
			BranchHeight: f.BranchHeight,
			Length:       f.Length,
			ChainWork:    f.ChainWork.String(),
			FirstSeen:    f.FirstSeen,
			LastExtended: f.LastExtended,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleForkMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chainState.CalculateForkMetrics())
}

func (s *Server) handleInvalidStats(w http.ResponseWriter, r *http.Request) {
	stats := s.chainState.InvalidStatistics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     stats.Total,
		"permanent": stats.Permanent,
		"byReason":  stats.ByReason,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
