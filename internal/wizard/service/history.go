package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
)

// History lists the history of the session, newest first
func (s *Session) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	return s.m.deps.History.List(ctx, s.id)
}

// PromoteToHistory saves the completed conversions as history entries.
// With no ids every completed document is saved.
func (s *Session) PromoteToHistory(ctx context.Context, documentIDs []string) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	var entries []domain.HistoryEntry
	if len(documentIDs) == 0 {
		for _, d := range s.docs {
			if e, ok := s.historyEntryLocked(d); ok {
				entries = append(entries, e)
			}
		}
	} else {
		for _, id := range documentIDs {
			d, found := domain.FindDocument(s.docs, id)
			if !found {
				s.mu.Unlock()
				return nil, apperrors.NotFoundWithKey("document")
			}
			if e, ok := s.historyEntryLocked(d); ok {
				entries = append(entries, e)
			}
		}
	}
	s.mu.Unlock()

	if len(entries) == 0 {
		return nil, apperrors.PreconditionFailed("no completed conversions").
			WithKey("wizard.no_completed_conversions", nil)
	}

	added, err := s.m.deps.History.Append(ctx, s.id, entries)
	if err != nil {
		return nil, mapError(err, errConversionRunning)
	}
	return added, nil
}

func (s *Session) historyEntryLocked(d domain.Document) (domain.HistoryEntry, bool) {
	st, ok := s.conversion.Status(d.ID)
	if !ok || st.State != domain.ConversionCompleted || !d.Converted() {
		return domain.HistoryEntry{}, false
	}
	return domain.HistoryEntry{
		FileName:     d.Name,
		Content:      d.ConvertedContent,
		DocumentType: d.DocumentType,
	}, true
}

// RemoveHistoryEntry deletes one history entry
func (s *Session) RemoveHistoryEntry(ctx context.Context, entryID string) error {
	return mapError(s.m.deps.History.Remove(ctx, s.id, entryID), errConversionRunning)
}

// ReuseHistory replaces the documents with the selected history entries
// and jumps to the generation step. The entries count as converted; they
// are only converted again on an explicit regenerate.
func (s *Session) ReuseHistory(ctx context.Context, entryIDs []string, w domain.Workflow) (SessionView, error) {
	if len(entryIDs) == 0 {
		return SessionView{}, apperrors.BadRequest("no history entries selected").
			WithKey("wizard.history_selection_empty", nil)
	}
	if !w.Valid() {
		return SessionView{}, errInvalidWorkflow(w)
	}
	if w == domain.WorkflowValidation && len(entryIDs) > 1 {
		return SessionView{}, apperrors.BadRequest("too many history entries selected").
			WithKey("wizard.history_selection_too_many", nil)
	}

	entries, err := s.m.deps.History.Select(ctx, s.id, entryIDs)
	if err != nil {
		return SessionView{}, mapError(err, errConversionRunning)
	}

	var docs []domain.Document
	for _, e := range entries {
		doc := domain.Document{
			ID:               uuid.New().String(),
			Name:             e.FileName,
			DocumentType:     e.DocumentType,
			RawContent:       e.Content,
			ConvertedContent: e.Content,
		}
		placed, err := domain.PlaceDocument(w, docs, doc)
		if err != nil {
			return SessionView{}, errInvalidDocumentType(e.DocumentType, w)
		}
		docs = placed
	}
	statuses := make([]domain.ConversionStatus, len(docs))
	for i, d := range docs {
		statuses[i] = domain.ConversionStatus{DocumentID: d.ID, State: domain.ConversionCompleted, Result: d.ConvertedContent}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversion.Running() {
		return SessionView{}, errConversionRunning()
	}
	if s.generation.Running() {
		return SessionView{}, errGenerationRunning()
	}

	if err := s.repo.SaveWorkflow(ctx, s.id, w); err != nil {
		return SessionView{}, err
	}
	if err := s.repo.SaveDocuments(ctx, s.id, docs); err != nil {
		return SessionView{}, err
	}
	if err := s.repo.SaveStep(ctx, s.id, domain.StepGeneration); err != nil {
		return SessionView{}, err
	}
	if err := s.repo.SaveFromHistory(ctx, s.id, true); err != nil {
		return SessionView{}, err
	}

	s.workflow = w
	s.docs = docs
	s.step = domain.StepGeneration
	s.fromHistory = true
	s.conversion.Restore(w, statuses)
	s.persistStatuses(w, statuses)
	s.generation.Reset()

	s.log.Info().
		Str("workflow", string(w)).
		Int("entries", len(entries)).
		Msg("history entries reused")
	return s.viewLocked(), nil
}
