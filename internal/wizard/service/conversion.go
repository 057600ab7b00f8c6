package service

import (
	"context"
	"errors"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/orchestrator"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
)

// ConversionView is the progress of the conversion step
type ConversionView struct {
	Statuses          []domain.ConversionStatus `json:"statuses"`
	Running           bool                      `json:"running"`
	CurrentDocumentID string                    `json:"currentDocumentId,omitempty"`
}

// Conversion returns the conversion progress
func (s *Session) Conversion() ConversionView {
	return ConversionView{
		Statuses:          s.conversion.Statuses(),
		Running:           s.conversion.Running(),
		CurrentDocumentID: s.conversion.Current(),
	}
}

// StartConversion converts every document of the session in order
func (s *Session) StartConversion(ctx context.Context) (ConversionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation.Running() {
		return ConversionView{}, errGenerationRunning()
	}
	if _, err := s.conversion.ConvertAll(s.documents(), s.workflow); err != nil {
		return ConversionView{}, mapError(err, errConversionRunning)
	}
	return s.Conversion(), nil
}

// CancelConversion stops the running conversion; it is a no-op when
// nothing runs
func (s *Session) CancelConversion(ctx context.Context) ConversionView {
	if t := s.conversion.Cancel(); t != nil {
		s.log.Info().Msg("conversion cancelled by user")
	}
	return s.Conversion()
}

// RegenerateConversion converts one document again
func (s *Session) RegenerateConversion(ctx context.Context, documentID string) (ConversionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := domain.FindDocument(s.docs, documentID)
	if !ok {
		return ConversionView{}, apperrors.NotFoundWithKey("document")
	}
	if s.generation.Running() {
		return ConversionView{}, errGenerationRunning()
	}
	if _, err := s.conversion.Regenerate(doc, s.workflow); err != nil {
		if errors.Is(err, orchestrator.ErrEmptyDocument) {
			return ConversionView{}, errDocumentEmpty(doc.Name)
		}
		return ConversionView{}, mapError(err, errConversionRunning)
	}
	return s.Conversion(), nil
}

// conversionFinished copies the results of a finished run into the
// documents and writes everything through to storage. Documents of the run
// that did not complete lose their previous content.
func (s *Session) conversionFinished(run orchestrator.ConversionRun) {
	s.mu.Lock()
	changed := run.Apply(s.docs)
	if changed > 0 {
		if err := s.repo.SaveDocuments(context.Background(), s.id, s.docs); err != nil {
			s.log.Error().Err(err).Msg("failed to persist converted documents")
		}
	}
	s.mu.Unlock()

	s.log.Info().
		Str("workflow", string(run.Workflow)).
		Int("changed", changed).
		Bool("cancelled", run.Cancelled).
		Msg("conversion results merged")

	s.m.flush()
}
