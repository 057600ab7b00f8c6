package repository

import (
	"context"
	"fmt"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/kvstore"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/session"
)

// Persisted keys inside a session namespace
const (
	KeySelectedWorkflow = "selectedWorkflow"
	KeyCurrentStep      = "currentStep"
	KeyUploadedFiles    = "uploadedFiles"
	KeyHistory          = "markdownHistory"
	KeyFromHistory      = "isFromHistory"
)

// StatusKey returns the key holding the conversion statuses of w
func StatusKey(w domain.Workflow) string {
	return "conversionStatus_" + string(w)
}

// resetKeys are cleared on start over; the history survives
var resetKeys = []string{
	KeySelectedWorkflow,
	KeyCurrentStep,
	KeyUploadedFiles,
	StatusKey(domain.WorkflowBusiness),
	StatusKey(domain.WorkflowValidation),
	KeyFromHistory,
}

// State is the persisted wizard state of one session
type State struct {
	Workflow    domain.Workflow
	CurrentStep int
	Documents   []domain.Document
	Statuses    []domain.ConversionStatus
	FromHistory bool
}

// Repository maps wizard state onto the key-value store
type Repository struct {
	store kvstore.Store
	log   *logger.Logger
}

// New creates a repository on top of store
func New(store kvstore.Store, log *logger.Logger) *Repository {
	return &Repository{store: store, log: log.WithComponent("wizard_repository")}
}

// Exists reports whether anything is stored for the session
func (r *Repository) Exists(ctx context.Context, sessionID string) (bool, error) {
	keys, err := r.store.Keys(ctx, session.Namespace(sessionID))
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Load reads the whole wizard state of a session, repairing values that no
// longer fit together.
func (r *Repository) Load(ctx context.Context, sessionID string) (*State, error) {
	ns := session.Namespace(sessionID)

	workflow, err := kvstore.Load[*domain.Workflow](ctx, r.store, r.log, ns, KeySelectedWorkflow, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	step, err := kvstore.Load(ctx, r.store, r.log, ns, KeyCurrentStep, domain.StepWorkflow)
	if err != nil {
		return nil, fmt.Errorf("failed to load step: %w", err)
	}
	docs, err := kvstore.Load[[]domain.Document](ctx, r.store, r.log, ns, KeyUploadedFiles, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	fromHistory, err := kvstore.Load(ctx, r.store, r.log, ns, KeyFromHistory, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load history flag: %w", err)
	}

	state := &State{
		CurrentStep: step,
		Documents:   docs,
		FromHistory: fromHistory,
	}

	if workflow != nil && workflow.Valid() {
		state.Workflow = *workflow
	}
	if state.Workflow == "" || !domain.ValidStep(state.CurrentStep) {
		state.CurrentStep = domain.StepWorkflow
	}

	if state.Workflow != "" {
		statuses, err := r.LoadStatuses(ctx, sessionID, state.Workflow, state.Documents)
		if err != nil {
			return nil, err
		}
		state.Statuses = statuses
	}

	return state, nil
}

// LoadStatuses reads the conversion statuses of workflow w, reconciled
// with docs
func (r *Repository) LoadStatuses(ctx context.Context, sessionID string, w domain.Workflow, docs []domain.Document) ([]domain.ConversionStatus, error) {
	statuses, err := kvstore.Load[[]domain.ConversionStatus](ctx, r.store, r.log, session.Namespace(sessionID), StatusKey(w), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversion statuses: %w", err)
	}
	return Reconcile(docs, statuses), nil
}

// Reconcile returns one status per document, in document order.
// Statuses of deleted documents are dropped, missing ones are added as
// pending and a status left converting by an interrupted run is reset.
func Reconcile(docs []domain.Document, statuses []domain.ConversionStatus) []domain.ConversionStatus {
	byID := make(map[string]domain.ConversionStatus, len(statuses))
	for _, s := range statuses {
		byID[s.DocumentID] = s
	}

	out := make([]domain.ConversionStatus, 0, len(docs))
	for _, d := range docs {
		s, ok := byID[d.ID]
		if !ok || s.State == domain.ConversionConverting {
			s = domain.PendingStatus(d.ID)
		}
		out = append(out, s)
	}
	return out
}

// SaveWorkflow stores the selected workflow; an empty workflow is stored as null
func (r *Repository) SaveWorkflow(ctx context.Context, sessionID string, w domain.Workflow) error {
	var v *domain.Workflow
	if w != "" {
		v = &w
	}
	return kvstore.Save(ctx, r.store, session.Namespace(sessionID), KeySelectedWorkflow, v)
}

// SaveStep stores the current step index
func (r *Repository) SaveStep(ctx context.Context, sessionID string, step int) error {
	return kvstore.Save(ctx, r.store, session.Namespace(sessionID), KeyCurrentStep, step)
}

// SaveDocuments stores the document list
func (r *Repository) SaveDocuments(ctx context.Context, sessionID string, docs []domain.Document) error {
	if docs == nil {
		docs = []domain.Document{}
	}
	return kvstore.Save(ctx, r.store, session.Namespace(sessionID), KeyUploadedFiles, docs)
}

// SaveStatuses stores the conversion statuses of workflow w
func (r *Repository) SaveStatuses(ctx context.Context, sessionID string, w domain.Workflow, statuses []domain.ConversionStatus) error {
	if !w.Valid() {
		return nil
	}
	if statuses == nil {
		statuses = []domain.ConversionStatus{}
	}
	return kvstore.Save(ctx, r.store, session.Namespace(sessionID), StatusKey(w), statuses)
}

// SaveFromHistory stores the one-shot "source is history" flag
func (r *Repository) SaveFromHistory(ctx context.Context, sessionID string, fromHistory bool) error {
	return kvstore.Save(ctx, r.store, session.Namespace(sessionID), KeyFromHistory, fromHistory)
}

// LoadHistory returns the stored history entries, newest first
func (r *Repository) LoadHistory(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	return kvstore.Load[[]domain.HistoryEntry](ctx, r.store, r.log, session.Namespace(sessionID), KeyHistory, nil)
}

// SaveHistory stores the history entries
func (r *Repository) SaveHistory(ctx context.Context, sessionID string, entries []domain.HistoryEntry) error {
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return kvstore.Save(ctx, r.store, session.Namespace(sessionID), KeyHistory, entries)
}

// Reset clears the wizard state of a session but keeps its history
func (r *Repository) Reset(ctx context.Context, sessionID string) error {
	ns := session.Namespace(sessionID)
	for _, key := range resetKeys {
		if err := r.store.Delete(ctx, ns, key); err != nil {
			return fmt.Errorf("failed to reset %s: %w", key, err)
		}
	}
	return nil
}
