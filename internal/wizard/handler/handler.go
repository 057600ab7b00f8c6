// Package handler exposes the wizard over HTTP
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docflow/docflow-backend/internal/wizard/events"
	"github.com/docflow/docflow-backend/internal/wizard/service"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
	"github.com/docflow/docflow-backend/pkg/httputil"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/session"
)

const defaultKeepAlive = 15 * time.Second

// Handler handles the wizard endpoints
type Handler struct {
	sessions  *service.Manager
	hub       *events.Hub
	log       *logger.Logger
	keepAlive time.Duration
}

// NewHandler creates a new wizard handler
func NewHandler(sessions *service.Manager, hub *events.Hub, log *logger.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		hub:       hub,
		log:       log.WithComponent("wizard_handler"),
		keepAlive: defaultKeepAlive,
	}
}

// WithKeepAlive sets the idle interval of the event stream
func (h *Handler) WithKeepAlive(d time.Duration) *Handler {
	h.keepAlive = d
	return h
}

// Routes mounts the wizard API on r. Everything except session creation
// requires a session token.
func (h *Handler) Routes(r chi.Router, tokens httputil.TokenValidator) {
	r.Post("/sessions", h.CreateSession)

	r.Group(func(r chi.Router) {
		r.Use(httputil.SessionAuth(tokens))

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Put("/workflow", h.SelectWorkflow)
			r.Put("/step", h.SetStep)
			r.Post("/reset", h.Reset)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", h.Upload)
			r.Delete("/{id}", h.DeleteDocument)
		})

		r.Route("/conversion", func(r chi.Router) {
			r.Get("/", h.GetConversion)
			r.Post("/start", h.StartConversion)
			r.Post("/cancel", h.CancelConversion)
			r.Post("/{id}/regenerate", h.RegenerateConversion)
		})

		r.Route("/generation", func(r chi.Router) {
			r.Get("/", h.GetGeneration)
			r.Post("/start", h.StartGeneration)
			r.Post("/cancel", h.CancelGeneration)
			r.Post("/stop", h.StopGeneration)
			r.Post("/entry", h.EnterGeneration)
			r.Post("/{sourceId}/regenerate", h.RegenerateResult)
		})

		r.Get("/exports/{sourceId}", h.Export)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.ListHistory)
			r.Post("/", h.PromoteToHistory)
			r.Post("/reuse", h.ReuseHistory)
			r.Get("/events", h.HistoryEvents)
			r.Delete("/{id}", h.RemoveHistoryEntry)
		})
	})
}

// session resolves the session of the authenticated request
func (h *Handler) session(r *http.Request) (*service.Session, error) {
	id, err := session.SessionID(r.Context())
	if err != nil {
		return nil, apperrors.Unauthorized("missing session")
	}
	s, err := h.sessions.Get(r.Context(), id)
	if errors.Is(err, service.ErrClosed) {
		return nil, apperrors.Wrap(err, "SERVICE_UNAVAILABLE", "service is shutting down", http.StatusServiceUnavailable)
	}
	return s, err
}

func (h *Handler) error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		h.log.Error().Err(err).
			Str("request_id", httputil.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	httputil.ErrorLocalized(w, r, err)
}

// CreateSession handles POST /sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	token, err := h.sessions.Create(r.Context())
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.Created(w, token)
}
