package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/domain/features"
	"tenderwatch/internal/errors"

	"github.com/go-chi/chi/v5"
)

type scoreRequest struct {
	Features features.Vector `json:"features"`
}

type explainRequest struct {
	Features features.Vector `json:"features"`
	Score    *float64        `json:"score,omitempty"`
	Refresh  bool            `json:"refresh,omitempty"`
}

type actionableResponse struct {
	TenderID        string                    `json:"tender_id"`
	Counterfactuals []domainCF.Counterfactual `json:"counterfactuals"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"cache":  s.service.CacheEnabled(),
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Score(req.Features))
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	tender := features.Tender{ID: chi.URLParam(r, "id"), Features: req.Features, Score: req.Score}
	explain := s.service.Explain
	if req.Refresh {
		explain = s.service.Refresh
	}

	explanation, err := explain(r.Context(), tender)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, explanation)
}

func (s *Server) handleGetCached(w http.ResponseWriter, r *http.Request) {
	explanation, err := s.service.Cached(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, explanation)
}

func (s *Server) handleActionable(w http.ResponseWriter, r *http.Request) {
	explanation, err := s.service.Cached(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionableResponse{
		TenderID:        explanation.TenderID,
		Counterfactuals: s.service.Actionable(explanation.Counterfactuals),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	removed, err := s.service.Invalidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": removed})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.CacheStats(r.Context()))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.InvalidInput(fmt.Sprintf("malformed request body: %v", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	default:
		log.Printf("[API] Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
