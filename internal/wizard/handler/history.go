package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/events"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
	"github.com/docflow/docflow-backend/pkg/httputil"
)

// PromoteRequest is the body of POST /history. Without ids every
// completed conversion is saved.
type PromoteRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// ReuseRequest is the body of POST /history/reuse
type ReuseRequest struct {
	EntryIDs []string `json:"entry_ids" validate:"required,min=1,dive,required"`
	Workflow string   `json:"workflow" validate:"required,oneof=business validation"`
}

// ListHistory handles GET /history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	entries, err := s.History(r.Context())
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, entries, &httputil.Meta{Total: len(entries)})
}

// PromoteToHistory handles POST /history
func (h *Handler) PromoteToHistory(w http.ResponseWriter, r *http.Request) {
	var req PromoteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.error(w, r, err)
		return
	}

	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	added, err := s.PromoteToHistory(r.Context(), req.DocumentIDs)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.Created(w, added)
}

// RemoveHistoryEntry handles DELETE /history/{id}
func (h *Handler) RemoveHistoryEntry(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	if err := s.RemoveHistoryEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.error(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// ReuseHistory handles POST /history/reuse
func (h *Handler) ReuseHistory(w http.ResponseWriter, r *http.Request) {
	var req ReuseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		h.error(w, r, err)
		return
	}

	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	view, err := s.ReuseHistory(r.Context(), req.EntryIDs, domain.Workflow(req.Workflow))
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// HistoryEvents handles GET /history/events
// Streams history changes of the session as Server-Sent Events until the
// client disconnects.
func (h *Handler) HistoryEvents(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}

	sse, err := events.NewSSEWriter(w)
	if err != nil {
		h.error(w, r, apperrors.Internal("streaming not supported"))
		return
	}

	h.log.Debug().Str("session_id", s.ID()).Msg("history stream opened")
	if err := h.hub.Stream(r.Context(), sse, s.ID(), h.keepAlive); err != nil {
		h.log.Debug().Err(err).Str("session_id", s.ID()).Msg("history stream closed")
	}
}
