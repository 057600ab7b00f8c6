package service

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/orchestrator"
	"github.com/docflow/docflow-backend/internal/wizard/repository"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
	"github.com/docflow/docflow-backend/pkg/logger"
)

// SessionView is the state of a session as shown to the client
type SessionView struct {
	SessionID   string                    `json:"sessionId"`
	Workflow    domain.Workflow           `json:"selectedWorkflow"`
	CurrentStep int                       `json:"currentStep"`
	Documents   []domain.Document         `json:"documents"`
	Statuses    []domain.ConversionStatus `json:"conversionStatuses"`
	Converting  bool                      `json:"converting"`
	Generating  bool                      `json:"generating"`
	FromHistory bool                      `json:"isFromHistory"`
}

// UploadInput is one uploaded file
type UploadInput struct {
	Name         string
	DocumentType domain.DocumentType
	Content      string
}

// Session is one wizard run. All state changes go through its methods and
// are mirrored to the store.
type Session struct {
	id   string
	m    *Manager
	repo *repository.Repository
	log  *logger.Logger

	mu          sync.Mutex
	workflow    domain.Workflow
	step        int
	docs        []domain.Document
	fromHistory bool

	conversion *orchestrator.Conversion
	generation *orchestrator.Generation
}

func newSession(m *Manager, id string, state *repository.State) *Session {
	s := &Session{
		id:          id,
		m:           m,
		repo:        m.deps.Repo,
		log:         m.log.WithSessionID(id),
		workflow:    state.Workflow,
		step:        state.CurrentStep,
		docs:        state.Documents,
		fromHistory: state.FromHistory,
	}
	s.conversion = orchestrator.NewConversion(m.deps.Converter, m.opts.Conversion, orchestrator.ConversionHooks{
		OnChange: s.persistStatuses,
		OnFinish: s.conversionFinished,
	}, s.log)
	s.conversion.Restore(state.Workflow, state.Statuses)
	s.generation = orchestrator.NewGeneration(m.deps.Generator, m.opts.GenerationTimeout, s.log)
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// View returns a snapshot of the session
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() SessionView {
	docs := append([]domain.Document{}, s.docs...)
	statuses := s.conversion.Statuses()
	if statuses == nil {
		statuses = []domain.ConversionStatus{}
	}
	return SessionView{
		SessionID:   s.id,
		Workflow:    s.workflow,
		CurrentStep: s.step,
		Documents:   docs,
		Statuses:    statuses,
		Converting:  s.conversion.Running(),
		Generating:  s.generation.Running(),
		FromHistory: s.fromHistory,
	}
}

// SelectWorkflow switches the workflow. Documents the new workflow does
// not accept are dropped and the statuses stored for it are restored.
func (s *Session) SelectWorkflow(ctx context.Context, w domain.Workflow) (SessionView, error) {
	if !w.Valid() {
		return SessionView{}, errInvalidWorkflow(w)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversion.Running() {
		return SessionView{}, errConversionRunning()
	}
	if s.generation.Running() {
		return SessionView{}, errGenerationRunning()
	}
	if w == s.workflow {
		return s.viewLocked(), nil
	}

	var docs []domain.Document
	for _, d := range s.docs {
		if !w.Accepts(d.DocumentType) {
			continue
		}
		placed, err := domain.PlaceDocument(w, docs, d)
		if err != nil {
			continue
		}
		docs = placed
	}

	statuses, err := s.repo.LoadStatuses(ctx, s.id, w, docs)
	if err != nil {
		return SessionView{}, err
	}

	if err := s.repo.SaveWorkflow(ctx, s.id, w); err != nil {
		return SessionView{}, err
	}
	if err := s.repo.SaveDocuments(ctx, s.id, docs); err != nil {
		return SessionView{}, err
	}

	s.log.Info().
		Str("from", string(s.workflow)).
		Str("to", string(w)).
		Int("documents", len(docs)).
		Msg("workflow selected")

	s.workflow = w
	s.docs = docs
	s.conversion.Restore(w, statuses)
	s.persistStatuses(w, statuses)
	s.generation.Reset()
	return s.viewLocked(), nil
}

// SetStep moves to another wizard step. Every step after the first needs
// a workflow.
func (s *Session) SetStep(ctx context.Context, step int) (SessionView, error) {
	if !domain.ValidStep(step) {
		return SessionView{}, errInvalidStep(step)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if step > domain.StepWorkflow && s.workflow == "" {
		return SessionView{}, errWorkflowNotSelected()
	}
	if err := s.repo.SaveStep(ctx, s.id, step); err != nil {
		return SessionView{}, err
	}
	s.step = step
	return s.viewLocked(), nil
}

// Reset starts over: running tasks are cancelled and everything but the
// history is cleared.
func (s *Session) Reset(ctx context.Context) (SessionView, error) {
	s.mu.Lock()
	tasks := s.cancelTasksLocked()
	s.mu.Unlock()

	// finishing tasks take the session lock
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			return SessionView{}, err
		}
	}

	s.mu.Lock()
	if err := s.repo.Reset(ctx, s.id); err != nil {
		s.mu.Unlock()
		return SessionView{}, err
	}
	if err := s.repo.SaveStep(ctx, s.id, domain.StepWorkflow); err != nil {
		s.mu.Unlock()
		return SessionView{}, err
	}
	s.workflow = ""
	s.step = domain.StepWorkflow
	s.docs = nil
	s.fromHistory = false
	s.conversion.Restore("", nil)
	s.generation.Reset()
	view := s.viewLocked()
	s.mu.Unlock()

	s.log.Info().Msg("session reset")
	if s.m.deps.Resets != nil {
		s.m.deps.Resets.SessionReset(ctx, s.id)
	}
	return view, nil
}

// Upload adds a document to the current workflow. A singleton type
// replaces the document already holding it.
func (s *Session) Upload(ctx context.Context, in UploadInput) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workflow == "" {
		return domain.Document{}, errWorkflowNotSelected()
	}
	if !in.DocumentType.Valid() || !s.workflow.Accepts(in.DocumentType) {
		return domain.Document{}, errInvalidDocumentType(in.DocumentType, s.workflow)
	}
	if strings.TrimSpace(in.Content) == "" {
		return domain.Document{}, apperrors.BadRequest("empty document").
			WithKey("wizard.document_empty", map[string]string{"name": in.Name})
	}
	if s.conversion.Running() {
		return domain.Document{}, errConversionRunning()
	}

	doc := domain.Document{
		ID:           uuid.New().String(),
		Name:         in.Name,
		DocumentType: in.DocumentType,
		RawContent:   in.Content,
	}
	docs, err := domain.PlaceDocument(s.workflow, s.docs, doc)
	if err != nil {
		return domain.Document{}, errInvalidDocumentType(in.DocumentType, s.workflow)
	}
	if err := s.repo.SaveDocuments(ctx, s.id, docs); err != nil {
		return domain.Document{}, err
	}

	s.docs = docs
	s.conversion.Sync(s.workflow, docs)

	s.log.Info().
		Str("document_id", doc.ID).
		Str("document_type", string(doc.DocumentType)).
		Str("file_name", doc.Name).
		Int("size", len(doc.RawContent)).
		Msg("document uploaded")
	return doc, nil
}

// DeleteDocument removes a document and its status
func (s *Session) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversion.Running() {
		return errConversionRunning()
	}
	docs, ok := domain.RemoveDocument(s.docs, id)
	if !ok {
		return apperrors.NotFoundWithKey("document")
	}
	if err := s.repo.SaveDocuments(ctx, s.id, docs); err != nil {
		return err
	}

	s.docs = docs
	s.conversion.Sync(s.workflow, docs)
	s.log.Info().Str("document_id", id).Msg("document deleted")
	return nil
}

// ConsumeHistoryFlag returns the "source is history" flag and clears it
func (s *Session) ConsumeHistoryFlag(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fromHistory {
		return false, nil
	}
	if err := s.repo.SaveFromHistory(ctx, s.id, false); err != nil {
		return false, err
	}
	s.fromHistory = false
	return true, nil
}

func (s *Session) documents() []domain.Document {
	return append([]domain.Document(nil), s.docs...)
}

func (s *Session) busy() bool {
	return s.conversion.Running() || s.generation.Running()
}

func (s *Session) cancelTasks() []*orchestrator.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelTasksLocked()
}

// cancelTasksLocked cancels both orchestrators without waiting
func (s *Session) cancelTasksLocked() []*orchestrator.Task {
	var tasks []*orchestrator.Task
	if t := s.conversion.Cancel(); t != nil {
		tasks = append(tasks, t)
	}
	if t := s.generation.Cancel(); t != nil {
		tasks = append(tasks, t)
	}
	return tasks
}

// persistStatuses runs under the conversion lock and must not take s.mu
func (s *Session) persistStatuses(w domain.Workflow, statuses []domain.ConversionStatus) {
	if err := s.repo.SaveStatuses(context.Background(), s.id, w, statuses); err != nil {
		s.log.Error().Err(err).Str("workflow", string(w)).Msg("failed to persist conversion statuses")
	}
}
