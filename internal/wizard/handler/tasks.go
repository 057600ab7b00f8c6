package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/docflow/docflow-backend/pkg/httputil"
)

// CancelGenerationRequest is the body of POST /generation/cancel
type CancelGenerationRequest struct {
	Confirm bool `json:"confirm"`
}

// GetConversion handles GET /conversion
func (h *Handler) GetConversion(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, s.Conversion())
}

// StartConversion handles POST /conversion/start
func (h *Handler) StartConversion(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	view, err := s.StartConversion(r.Context())
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.Accepted(w, view)
}

// CancelConversion handles POST /conversion/cancel
func (h *Handler) CancelConversion(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, s.CancelConversion(r.Context()))
}

// RegenerateConversion handles POST /conversion/{id}/regenerate
func (h *Handler) RegenerateConversion(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	view, err := s.RegenerateConversion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.Accepted(w, view)
}

// GetGeneration handles GET /generation
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, s.Generation())
}

// StartGeneration handles POST /generation/start
func (h *Handler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	view, err := s.StartGeneration(r.Context())
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.Accepted(w, view)
}

// CancelGeneration handles POST /generation/cancel
func (h *Handler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	var req CancelGenerationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.error(w, r, err)
		return
	}

	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	view, err := s.CancelGeneration(r.Context(), req.Confirm)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// StopGeneration handles POST /generation/stop
func (h *Handler) StopGeneration(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, s.StopGeneration(r.Context()))
}

// RegenerateResult handles POST /generation/{sourceId}/regenerate
func (h *Handler) RegenerateResult(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	view, err := s.RegenerateResult(r.Context(), chi.URLParam(r, "sourceId"))
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.Accepted(w, view)
}

// EnterGeneration handles POST /generation/entry. It reports whether the
// documents came from the history and clears the flag.
func (h *Handler) EnterGeneration(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	fromHistory, err := s.ConsumeHistoryFlag(r.Context())
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]bool{"isFromHistory": fromHistory})
}

// Export handles GET /exports/{sourceId}?format=csv|xlsx
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	exp, err := s.Export(r.Context(), chi.URLParam(r, "sourceId"), r.URL.Query().Get("format"))
	if err != nil {
		h.error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", exp.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(exp.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(exp.Data); err != nil {
		h.log.Warn().Err(err).Str("file_name", exp.FileName).Msg("failed to write export")
	}
}
