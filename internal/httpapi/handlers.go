package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agenthands/kvradix/internal/blockpool"
	"github.com/agenthands/kvradix/internal/sequence"
)

// createSequenceRequest matches §6: turns are already token-id arrays, no
// tokenization happens in this layer.
type createSequenceRequest struct {
	Turns        [][]uint32 `json:"turns"`
	CacheGroupID string     `json:"cache_group_id,omitempty"`
}

type createSequenceResponse struct {
	SequenceID      string `json:"sequence_id"`
	NumCachedTokens int    `json:"num_cached_tokens"`
	BlockTable      []int  `json:"block_table"`
}

type appendRequest struct {
	TokenID uint32 `json:"token_id"`
}

type poolResponse struct {
	NumBlocks int `json:"num_blocks"`
	FreeBlocks int `json:"free_blocks"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleCreateSequence implements POST /v1/sequences (§6).
func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var req createSequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turns := make([]sequence.Turn, len(req.Turns))
	requested := 0
	for i, t := range req.Turns {
		turns[i] = sequence.Turn{TokenIDs: t}
		requested += len(t)
	}
	seq := &sequence.Sequence{Turns: turns, CacheGroupID: req.CacheGroupID}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.mgr.MatchAndAllocate(seq)
	s.metrics.observeAllocate(ok, seq.NumCachedTokens, requested)
	s.metrics.observePool(s.mgr.FreeBlocks(), s.mgr.NumBlocks())

	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"retry": true})
		return
	}

	id := newSequenceID()
	s.sequences[id] = seq

	writeJSON(w, http.StatusOK, createSequenceResponse{
		SequenceID:      id,
		NumCachedTokens: seq.NumCachedTokens,
		BlockTable:      seq.BlockTable,
	})
}

// handleAppend implements POST /v1/sequences/{id}/append (§6).
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[id]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown sequence id")
		return
	}

	if !s.mgr.CanAppend(seq) {
		s.metrics.outOfBlocks.Inc()
		writeJSONError(w, http.StatusInsufficientStorage, blockpool.ErrOutOfBlocks.Error())
		return
	}

	seq.Grow()
	if err := s.mgr.MayAppend(seq); err != nil {
		if errors.Is(err, blockpool.ErrOutOfBlocks) {
			s.metrics.outOfBlocks.Inc()
			writeJSONError(w, http.StatusInsufficientStorage, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.observePool(s.mgr.FreeBlocks(), s.mgr.NumBlocks())
	writeJSON(w, http.StatusOK, map[string]any{"block_table": seq.BlockTable})
}

// handleDelete implements DELETE /v1/sequences/{id} (§6).
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[id]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown sequence id")
		return
	}

	s.mgr.Deallocate(seq)
	delete(s.sequences, id)
	s.metrics.observePool(s.mgr.FreeBlocks(), s.mgr.NumBlocks())

	w.WriteHeader(http.StatusNoContent)
}

// handlePool implements GET /v1/pool: a point-in-time occupancy snapshot.
func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, poolResponse{
		NumBlocks:  s.mgr.NumBlocks(),
		FreeBlocks: s.mgr.FreeBlocks(),
	})
}

// handleHealthz implements GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
