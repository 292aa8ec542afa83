package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chainctl/internal/engine"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunRequest is the body of POST /api/chains/{name}/run.
type RunRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

// ChainSummary is one entry of GET /api/chains.
type ChainSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	Triggered   bool   `json:"has_trigger"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	triggers := s.engine.CheckTriggers(r.Context())
	if triggers == nil {
		triggers = []engine.Trigger{}
	}
	writeJSON(w, http.StatusOK, triggers)
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	chains := s.chains.All()
	out := make([]ChainSummary, 0, len(chains))
	for _, c := range chains {
		out = append(out, ChainSummary{
			Name:        c.Name,
			Description: c.Description,
			Steps:       len(c.Steps),
			Triggered:   c.TriggerCondition() != nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	c, err := s.chains.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRunChain(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// A run is not cancellable once started; a client disconnect must not kill its steps.
	ctx := context.WithoutCancel(r.Context())
	res := s.engine.ExecuteChain(ctx, chi.URLParam(r, "name"), engine.Options{Context: req.Context})
	switch {
	case errors.Is(res.Err, engine.ErrChainNotFound):
		writeError(w, http.StatusNotFound, res.Error)
	case res.Gated:
		writeJSON(w, http.StatusPreconditionFailed, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleRemoveChain(w http.ResponseWriter, r *http.Request) {
	err := s.engine.RemoveChain(r.Context(), chi.URLParam(r, "name"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, engine.ErrChainNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrChainInUse):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
