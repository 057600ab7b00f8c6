package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/kvstore"
	"github.com/docflow/docflow-backend/internal/wizard/repository"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/session"
)

func newRepo() (*repository.Repository, *kvstore.MemoryStore) {
	store := kvstore.NewMemoryStore()
	return repository.New(store, logger.Nop()), store
}

func TestLoad_EmptySession(t *testing.T) {
	repo, _ := newRepo()

	state, err := repo.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.Workflow(""), state.Workflow)
	assert.Equal(t, domain.StepWorkflow, state.CurrentStep)
	assert.Empty(t, state.Documents)
	assert.Nil(t, state.Statuses)
	assert.False(t, state.FromHistory)

	exists, err := repo.Exists(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()

	docs := []domain.Document{
		{ID: "a", Name: "a.html", DocumentType: domain.DocumentTypeBusiness, RawContent: "<p>a</p>"},
		{ID: "b", Name: "b.html", DocumentType: domain.DocumentTypeDetailAPI, RawContent: "<p>b</p>", ConvertedContent: "b"},
	}
	statuses := []domain.ConversionStatus{
		{DocumentID: "b", State: domain.ConversionCompleted, Result: "b"},
		{DocumentID: "a", State: domain.ConversionError, ErrorMessage: "boom"},
	}

	require.NoError(t, repo.SaveWorkflow(ctx, "s1", domain.WorkflowBusiness))
	require.NoError(t, repo.SaveStep(ctx, "s1", domain.StepConversion))
	require.NoError(t, repo.SaveDocuments(ctx, "s1", docs))
	require.NoError(t, repo.SaveStatuses(ctx, "s1", domain.WorkflowBusiness, statuses))
	require.NoError(t, repo.SaveFromHistory(ctx, "s1", true))

	state, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowBusiness, state.Workflow)
	assert.Equal(t, domain.StepConversion, state.CurrentStep)
	assert.Equal(t, docs, state.Documents)
	assert.True(t, state.FromHistory)

	// statuses come back in document order
	require.Len(t, state.Statuses, 2)
	assert.Equal(t, "a", state.Statuses[0].DocumentID)
	assert.Equal(t, domain.ConversionError, state.Statuses[0].State)
	assert.Equal(t, "b", state.Statuses[1].DocumentID)
}

func TestLoad_RepairsState(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo()
	ns := session.Namespace("s1")

	require.NoError(t, store.Set(ctx, ns, repository.KeySelectedWorkflow, []byte(`"validation"`)))
	require.NoError(t, store.Set(ctx, ns, repository.KeyCurrentStep, []byte(`9`)))
	require.NoError(t, store.Set(ctx, ns, repository.KeyFromHistory, []byte(`"yes"`)))
	require.NoError(t, repo.SaveDocuments(ctx, "s1", []domain.Document{
		{ID: "v1", DocumentType: domain.DocumentTypeValidation, RawContent: "<p/>"},
	}))
	require.NoError(t, repo.SaveStatuses(ctx, "s1", domain.WorkflowValidation, []domain.ConversionStatus{
		{DocumentID: "v1", State: domain.ConversionConverting},
		{DocumentID: "gone", State: domain.ConversionCompleted, Result: "x"},
	}))

	state, err := repo.Load(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, domain.StepWorkflow, state.CurrentStep)
	assert.False(t, state.FromHistory)
	assert.Equal(t, []domain.ConversionStatus{domain.PendingStatus("v1")}, state.Statuses)

	_, err = store.Get(ctx, ns, repository.KeyFromHistory)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestLoad_UnknownWorkflowIsIgnored(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo()
	require.NoError(t, store.Set(ctx, session.Namespace("s1"), repository.KeySelectedWorkflow, []byte(`"finance"`)))
	require.NoError(t, repo.SaveStep(ctx, "s1", domain.StepGeneration))

	state, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.Workflow(""), state.Workflow)
	assert.Equal(t, domain.StepWorkflow, state.CurrentStep)
}

func TestReconcile(t *testing.T) {
	docs := []domain.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	statuses := []domain.ConversionStatus{
		{DocumentID: "c", State: domain.ConversionCompleted, Result: "c"},
		{DocumentID: "a", State: domain.ConversionConverting},
		{DocumentID: "x", State: domain.ConversionError, ErrorMessage: "old"},
	}

	got := repository.Reconcile(docs, statuses)
	assert.Equal(t, []domain.ConversionStatus{
		domain.PendingStatus("a"),
		domain.PendingStatus("b"),
		{DocumentID: "c", State: domain.ConversionCompleted, Result: "c"},
	}, got)
}

func TestReset_KeepsHistory(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()

	entries := []domain.HistoryEntry{{ID: "h1", FileName: "a.md", Content: "# A", Timestamp: time.Unix(100, 0).UTC()}}
	require.NoError(t, repo.SaveWorkflow(ctx, "s1", domain.WorkflowValidation))
	require.NoError(t, repo.SaveStep(ctx, "s1", domain.StepUpload))
	require.NoError(t, repo.SaveHistory(ctx, "s1", entries))

	require.NoError(t, repo.Reset(ctx, "s1"))

	state, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.Workflow(""), state.Workflow)
	assert.Equal(t, domain.StepWorkflow, state.CurrentStep)

	history, err := repo.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entries, history)
}

func TestSaveWorkflow_EmptyIsNull(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo()
	require.NoError(t, repo.SaveWorkflow(ctx, "s1", ""))

	raw, err := store.Get(ctx, session.Namespace("s1"), repository.KeySelectedWorkflow)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}
