package handler

import (
	"encoding/base64"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/service"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
	"github.com/docflow/docflow-backend/pkg/httputil"
)

const maxUploadSize = 20 << 20 // 20MB

// SelectWorkflowRequest is the body of PUT /session/workflow
type SelectWorkflowRequest struct {
	Workflow string `json:"workflow" validate:"required,oneof=business validation"`
}

// SetStepRequest is the body of PUT /session/step
type SetStepRequest struct {
	Step *int `json:"step" validate:"required,min=0,max=3"`
}

// GetSession handles GET /session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, s.View())
}

// SelectWorkflow handles PUT /session/workflow
func (h *Handler) SelectWorkflow(w http.ResponseWriter, r *http.Request) {
	var req SelectWorkflowRequest
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
	view, err := s.SelectWorkflow(r.Context(), domain.Workflow(req.Workflow))
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// SetStep handles PUT /session/step
func (h *Handler) SetStep(w http.ResponseWriter, r *http.Request) {
	var req SetStepRequest
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
	view, err := s.SetStep(r.Context(), *req.Step)
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// Reset handles POST /session/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	view, err := s.Reset(r.Context())
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, view)
}

// Upload handles POST /documents
// Accepts multipart form with:
// - file: the HTML document or UML image
// - document_type: business, detail-api, api-integration, validation or uml-image
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.error(w, r, apperrors.BadRequest("file too large or invalid multipart form").
			WithKey("wizard.upload_invalid", nil))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.error(w, r, apperrors.BadRequest("missing file in request").
			WithKey("wizard.file_missing", nil))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.error(w, r, apperrors.BadRequest("failed to read uploaded file").
			WithKey("wizard.upload_invalid", nil))
		return
	}

	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}

	doc, err := s.Upload(r.Context(), service.UploadInput{
		Name:         header.Filename,
		DocumentType: domain.DocumentType(r.FormValue("document_type")),
		Content:      documentContent(header.Filename, header.Header.Get("Content-Type"), data),
	})
	if err != nil {
		h.error(w, r, err)
		return
	}
	httputil.Created(w, doc)
}

// DeleteDocument handles DELETE /documents/{id}
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.error(w, r, err)
		return
	}
	if err := s.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.error(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// documentContent keeps text uploads as they are and turns images into
// base64 data URLs
func documentContent(name, contentType string, data []byte) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
		if i := strings.Index(mediaType, ";"); i >= 0 {
			mediaType = mediaType[:i]
		}
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return string(data)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
