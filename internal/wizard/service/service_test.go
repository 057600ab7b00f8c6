package service_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"

	"github.com/docflow/docflow-backend/internal/wizard/converter"
	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/generator"
	"github.com/docflow/docflow-backend/internal/wizard/history"
	"github.com/docflow/docflow-backend/internal/wizard/kvstore"
	"github.com/docflow/docflow-backend/internal/wizard/repository"
	"github.com/docflow/docflow-backend/internal/wizard/service"
	"github.com/docflow/docflow-backend/pkg/config"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConverter struct {
	mu    sync.Mutex
	calls int
	fail  bool
	gate  chan struct{}
}

func (f *fakeConverter) Convert(ctx context.Context, req converter.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()

	if fail {
		return "", errors.New("conversion service unavailable")
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "# " + req.FileName, nil
}

func (f *fakeConverter) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeConverter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	business []generator.BusinessRequest
}

func (f *fakeGenerator) GenerateValidation(ctx context.Context, req generator.ValidationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "ID,Title\n" + req.FileID + ",\"a, b\"\n", nil
}

func (f *fakeGenerator) GenerateBusiness(ctx context.Context, req generator.BusinessRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.business = append(f.business, req)
	return "ID,Title\nTC-1,combined\n", nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type resetRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *resetRecorder) SessionReset(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

type harness struct {
	store   *kvstore.MemoryStore
	conv    *fakeConverter
	gen     *fakeGenerator
	resets  *resetRecorder
	manager *service.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  kvstore.NewMemoryStore(),
		conv:   &fakeConverter{},
		gen:    &fakeGenerator{},
		resets: &resetRecorder{},
	}
	h.manager = h.newManager()
	t.Cleanup(func() { require.NoError(t, h.manager.Close(context.Background())) })
	return h
}

func (h *harness) newManager() *service.Manager {
	repo := repository.New(h.store, logger.Nop())
	tokens := session.NewTokenManager(&config.JWTConfig{Secret: "test-secret", SessionExpiry: time.Hour, Issuer: "docflow"})
	return service.NewManager(service.Deps{
		Repo:      repo,
		History:   history.NewService(repo, nil, logger.Nop()),
		Resets:    h.resets,
		Converter: h.conv,
		Generator: h.gen,
		Tokens:    tokens,
	}, service.Options{}, logger.Nop())
}

func (h *harness) session(t *testing.T) *service.Session {
	t.Helper()
	ctx := context.Background()
	token, err := h.manager.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	s, err := h.manager.Get(ctx, token.SessionID)
	require.NoError(t, err)
	return s
}

func appError(t *testing.T, err error) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr
}

func upload(t *testing.T, s *service.Session, name string, typ domain.DocumentType) domain.Document {
	t.Helper()
	doc, err := s.Upload(context.Background(), service.UploadInput{Name: name, DocumentType: typ, Content: "<p>" + name + "</p>"})
	require.NoError(t, err)
	return doc
}

func waitConversion(t *testing.T, s *service.Session) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.Conversion().Running }, 2*time.Second, 5*time.Millisecond)
}

func waitGeneration(t *testing.T, s *service.Session) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.Generation().Running }, 2*time.Second, 5*time.Millisecond)
}

func TestNewSession(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	view := s.View()
	assert.Equal(t, domain.Workflow(""), view.Workflow)
	assert.Equal(t, domain.StepWorkflow, view.CurrentStep)
	assert.Empty(t, view.Documents)
	assert.NotNil(t, view.Statuses)
	assert.Equal(t, 1, h.manager.Len())
}

func TestSelectWorkflowAndSteps(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SetStep(ctx, domain.StepUpload)
	assert.Equal(t, http.StatusUnprocessableEntity, appError(t, err).StatusCode)

	_, err = s.SelectWorkflow(ctx, "unknown")
	assert.Equal(t, http.StatusBadRequest, appError(t, err).StatusCode)

	_, err = s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	view, err := s.SetStep(ctx, domain.StepUpload)
	require.NoError(t, err)
	assert.Equal(t, domain.StepUpload, view.CurrentStep)

	_, err = s.SetStep(ctx, 7)
	assert.Equal(t, http.StatusBadRequest, appError(t, err).StatusCode)
}

func TestUpload_Placement(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.Upload(ctx, service.UploadInput{Name: "a.html", DocumentType: domain.DocumentTypeBusiness, Content: "<p/>"})
	assert.Equal(t, http.StatusUnprocessableEntity, appError(t, err).StatusCode)

	_, err = s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)

	upload(t, s, "business-v1.html", domain.DocumentTypeBusiness)
	upload(t, s, "detail.html", domain.DocumentTypeDetailAPI)
	upload(t, s, "int-1.html", domain.DocumentTypeAPIIntegration)
	upload(t, s, "int-2.html", domain.DocumentTypeAPIIntegration)
	replacement := upload(t, s, "business-v2.html", domain.DocumentTypeBusiness)

	docs := s.View().Documents
	require.Len(t, docs, 4)
	assert.Equal(t, replacement.ID, docs[0].ID)
	assert.Len(t, s.View().Statuses, 4)

	_, err = s.Upload(ctx, service.UploadInput{Name: "v.html", DocumentType: domain.DocumentTypeValidation, Content: "<p/>"})
	assert.Equal(t, http.StatusBadRequest, appError(t, err).StatusCode)

	_, err = s.Upload(ctx, service.UploadInput{Name: "empty.html", DocumentType: domain.DocumentTypeDetailAPI, Content: " "})
	assert.Equal(t, http.StatusBadRequest, appError(t, err).StatusCode)

	require.NoError(t, s.DeleteDocument(ctx, docs[2].ID))
	assert.Len(t, s.View().Documents, 3)
	assert.Equal(t, http.StatusNotFound, appError(t, s.DeleteDocument(ctx, "missing")).StatusCode)
}

func TestSwitchingWorkflowDropsForeignDocuments(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	upload(t, s, "b.html", domain.DocumentTypeBusiness)

	view, err := s.SelectWorkflow(ctx, domain.WorkflowValidation)
	require.NoError(t, err)
	assert.Empty(t, view.Documents)
	assert.Empty(t, view.Statuses)
}

func TestConversion_MirrorsResultsAndPersists(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.StartConversion(ctx)
	assert.Equal(t, http.StatusUnprocessableEntity, appError(t, err).StatusCode)

	_, err = s.SelectWorkflow(ctx, domain.WorkflowValidation)
	require.NoError(t, err)
	_, err = s.StartConversion(ctx)
	assert.Equal(t, "PRECONDITION_FAILED", appError(t, err).Code)

	doc := upload(t, s, "spec.html", domain.DocumentTypeValidation)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)

	view := s.View()
	require.Len(t, view.Documents, 1)
	assert.Equal(t, "# spec.html", view.Documents[0].ConvertedContent)
	assert.Equal(t, domain.ConversionCompleted, view.Statuses[0].State)

	// a second manager on the same store sees the persisted state
	other := h.newManager()
	defer other.Close(ctx)
	reloaded, err := other.Get(ctx, s.ID())
	require.NoError(t, err)
	reloadedView := reloaded.View()
	assert.Equal(t, domain.WorkflowValidation, reloadedView.Workflow)
	assert.Equal(t, doc.ID, reloadedView.Documents[0].ID)
	assert.Equal(t, "# spec.html", reloadedView.Documents[0].ConvertedContent)
	assert.Equal(t, domain.ConversionCompleted, reloadedView.Statuses[0].State)
}

func TestConversion_FailedRerunDropsPreviousContent(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowValidation)
	require.NoError(t, err)
	upload(t, s, "rules.html", domain.DocumentTypeValidation)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)
	require.Equal(t, "# rules.html", s.View().Documents[0].ConvertedContent)

	h.conv.setFail(true)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)

	view := s.View()
	assert.Equal(t, domain.ConversionError, view.Statuses[0].State)
	assert.Empty(t, view.Documents[0].ConvertedContent)

	_, err = s.StartGeneration(ctx)
	assert.Equal(t, "wizard.nothing_to_generate", appError(t, err).MessageKey)
	assert.Zero(t, h.gen.callCount())

	other := h.newManager()
	defer other.Close(ctx)
	reloaded, err := other.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Empty(t, reloaded.View().Documents[0].ConvertedContent)
}

func TestConversion_BlocksEditsWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.conv.gate = make(chan struct{})
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	doc := upload(t, s, "b.html", domain.DocumentTypeBusiness)

	_, err = s.StartConversion(ctx)
	require.NoError(t, err)

	_, err = s.StartConversion(ctx)
	assert.Equal(t, http.StatusConflict, appError(t, err).StatusCode)
	_, err = s.Upload(ctx, service.UploadInput{Name: "d.html", DocumentType: domain.DocumentTypeDetailAPI, Content: "<p/>"})
	assert.Equal(t, http.StatusConflict, appError(t, err).StatusCode)
	assert.Equal(t, http.StatusConflict, appError(t, s.DeleteDocument(ctx, doc.ID)).StatusCode)
	_, err = s.SelectWorkflow(ctx, domain.WorkflowValidation)
	assert.Equal(t, http.StatusConflict, appError(t, err).StatusCode)

	require.Eventually(t, func() bool { return s.Conversion().CurrentDocumentID == doc.ID }, time.Second, 5*time.Millisecond)
	view := s.CancelConversion(ctx)
	assert.Equal(t, domain.ConversionPending, view.Statuses[0].State)
	waitConversion(t, s)
	assert.Empty(t, s.View().Documents[0].ConvertedContent)
}

func TestRegenerateConversion(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	b := upload(t, s, "b.html", domain.DocumentTypeBusiness)
	upload(t, s, "d.html", domain.DocumentTypeDetailAPI)

	_, err = s.RegenerateConversion(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, appError(t, err).StatusCode)

	_, err = s.RegenerateConversion(ctx, b.ID)
	require.NoError(t, err)
	waitConversion(t, s)

	view := s.View()
	assert.Equal(t, "# b.html", view.Documents[0].ConvertedContent)
	assert.Empty(t, view.Documents[1].ConvertedContent)
	assert.Equal(t, domain.ConversionCompleted, view.Statuses[0].State)
	assert.Equal(t, domain.ConversionPending, view.Statuses[1].State)
}

func TestGeneration_BusinessWithoutDetailAPI(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	upload(t, s, "b.html", domain.DocumentTypeBusiness)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)

	_, err = s.StartGeneration(ctx)
	appErr := appError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.StatusCode)
	assert.Equal(t, "wizard.business_sources_missing", appErr.MessageKey)
	assert.Zero(t, h.gen.callCount())
	assert.Empty(t, s.Generation().Results)
}

func TestGeneration_BusinessCombinedAndExport(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	upload(t, s, "b.html", domain.DocumentTypeBusiness)
	upload(t, s, "d.html", domain.DocumentTypeDetailAPI)
	upload(t, s, "i1.html", domain.DocumentTypeAPIIntegration)
	upload(t, s, "i2.html", domain.DocumentTypeAPIIntegration)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)

	_, err = s.StartGeneration(ctx)
	require.NoError(t, err)
	waitGeneration(t, s)

	require.Len(t, h.gen.business, 1)
	assert.Equal(t, generator.BusinessRequest{Business: "# b.html", DetailAPI: "# d.html", APIIntegration: "# i1.html\n\n# i2.html"}, h.gen.business[0])

	results := s.Generation().Results
	require.Len(t, results, 1)
	assert.Equal(t, domain.CombinedSourceID, results[0].SourceID)

	exp, err := s.Export(ctx, domain.CombinedSourceID, "csv")
	require.NoError(t, err)
	assert.Equal(t, "business_combined_testcases.csv", exp.FileName)
	assert.Equal(t, "ID,Title\nTC-1,combined\n", string(exp.Data))

	_, err = s.RegenerateResult(ctx, domain.CombinedSourceID)
	require.NoError(t, err)
	waitGeneration(t, s)
	assert.Len(t, h.gen.business, 2)
}

func TestGeneration_ValidationExports(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowValidation)
	require.NoError(t, err)
	doc := upload(t, s, "rules.html", domain.DocumentTypeValidation)

	_, err = s.StartGeneration(ctx)
	assert.Equal(t, "wizard.nothing_to_generate", appError(t, err).MessageKey)

	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)
	_, err = s.StartGeneration(ctx)
	require.NoError(t, err)
	waitGeneration(t, s)

	exp, err := s.Export(ctx, doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "rules_testcases.csv", exp.FileName)
	assert.Equal(t, "ID,Title\n"+doc.ID+",\"a, b\"\n", string(exp.Data))

	xlsx, err := s.Export(ctx, doc.ID, "xlsx")
	require.NoError(t, err)
	assert.Equal(t, "rules_testcases.xlsx", xlsx.FileName)
	f, err := excelize.OpenReader(strings.NewReader(string(xlsx.Data)))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ID", "Title"}, {doc.ID, "a, b"}}, rows)

	all, err := s.Export(ctx, service.AllResults, "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(all.FileName, "validation_all_results_"))
	assert.Equal(t, "Source,ID,Title\nrules.html,"+doc.ID+",\"a, b\"\n", string(all.Data))

	_, err = s.Export(ctx, doc.ID, "pdf")
	assert.Equal(t, http.StatusBadRequest, appError(t, err).StatusCode)
	_, err = s.Export(ctx, "missing", "csv")
	assert.Equal(t, http.StatusNotFound, appError(t, err).StatusCode)
}

func TestCancelGenerationNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	_, err := s.CancelGeneration(context.Background(), false)
	assert.Equal(t, "wizard.cancel_confirmation_required", appError(t, err).MessageKey)

	view, err := s.CancelGeneration(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, view.Running)
}

func TestReset_KeepsHistory(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowValidation)
	require.NoError(t, err)
	upload(t, s, "spec.html", domain.DocumentTypeValidation)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)

	_, err = s.PromoteToHistory(ctx, nil)
	require.NoError(t, err)

	view, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Workflow(""), view.Workflow)
	assert.Empty(t, view.Documents)
	assert.Equal(t, []string{s.ID()}, h.resets.ids)

	entries, err := s.History(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReset_CancelsRunningConversion(t *testing.T) {
	h := newHarness(t)
	h.conv.gate = make(chan struct{})
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	upload(t, s, "b.html", domain.DocumentTypeBusiness)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)

	view, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.False(t, view.Converting)
	assert.Empty(t, view.Documents)
}

func TestPromoteAndReuseHistory(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.PromoteToHistory(ctx, nil)
	assert.Equal(t, "wizard.no_completed_conversions", appError(t, err).MessageKey)

	_, err = s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	b := upload(t, s, "business.html", domain.DocumentTypeBusiness)
	upload(t, s, "detail.html", domain.DocumentTypeDetailAPI)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)
	waitConversion(t, s)

	_, err = s.PromoteToHistory(ctx, []string{"missing"})
	assert.Equal(t, http.StatusNotFound, appError(t, err).StatusCode)

	added, err := s.PromoteToHistory(ctx, nil)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "business.md", added[0].FileName)
	assert.Equal(t, "# business.html", added[0].Content)

	_, err = s.Reset(ctx)
	require.NoError(t, err)

	_, err = s.ReuseHistory(ctx, nil, domain.WorkflowBusiness)
	assert.Equal(t, "wizard.history_selection_empty", appError(t, err).MessageKey)
	_, err = s.ReuseHistory(ctx, []string{added[0].ID, added[1].ID}, domain.WorkflowValidation)
	assert.Equal(t, "wizard.history_selection_too_many", appError(t, err).MessageKey)

	view, err := s.ReuseHistory(ctx, []string{added[0].ID, added[1].ID}, domain.WorkflowBusiness)
	require.NoError(t, err)
	assert.Equal(t, domain.StepGeneration, view.CurrentStep)
	assert.True(t, view.FromHistory)
	require.Len(t, view.Documents, 2)
	assert.NotEqual(t, b.ID, view.Documents[0].ID)
	assert.Equal(t, "# business.html", view.Documents[0].ConvertedContent)
	for _, st := range view.Statuses {
		assert.Equal(t, domain.ConversionCompleted, st.State)
	}

	calls := h.conv.callCount()
	_, err = s.StartGeneration(ctx)
	require.NoError(t, err)
	waitGeneration(t, s)
	assert.Equal(t, calls, h.conv.callCount())

	first, err := s.ConsumeHistoryFlag(ctx)
	require.NoError(t, err)
	assert.True(t, first)
	second, err := s.ConsumeHistoryFlag(ctx)
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, s.RemoveHistoryEntry(ctx, added[0].ID))
	assert.Equal(t, http.StatusNotFound, appError(t, s.RemoveHistoryEntry(ctx, added[0].ID)).StatusCode)
}

func TestManager_InvalidateReloads(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	ctx := context.Background()

	_, err := s.SelectWorkflow(ctx, domain.WorkflowValidation)
	require.NoError(t, err)

	h.manager.Invalidate(s.ID())
	assert.Zero(t, h.manager.Len())

	again, err := h.manager.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.NotSame(t, s, again)
	assert.Equal(t, domain.WorkflowValidation, again.View().Workflow)
}

func TestManager_CloseCancelsTasks(t *testing.T) {
	store := kvstore.NewMemoryStore()
	debounced := kvstore.NewDebounced(store, time.Hour, logger.Nop())
	repo := repository.New(debounced, logger.Nop())
	conv := &fakeConverter{gate: make(chan struct{})}
	m := service.NewManager(service.Deps{
		Repo:      repo,
		Store:     debounced,
		History:   history.NewService(repo, nil, logger.Nop()),
		Converter: conv,
		Generator: &fakeGenerator{},
		Tokens:    session.NewTokenManager(&config.JWTConfig{Secret: "s", SessionExpiry: time.Hour, Issuer: "docflow"}),
	}, service.Options{IdleTTL: time.Hour}, logger.Nop())

	ctx := context.Background()
	token, err := m.Create(ctx)
	require.NoError(t, err)
	s, err := m.Get(ctx, token.SessionID)
	require.NoError(t, err)
	_, err = s.SelectWorkflow(ctx, domain.WorkflowBusiness)
	require.NoError(t, err)
	upload(t, s, "b.html", domain.DocumentTypeBusiness)
	_, err = s.StartConversion(ctx)
	require.NoError(t, err)

	keys, err := store.Keys(ctx, session.Namespace(token.SessionID))
	require.NoError(t, err)
	assert.Empty(t, keys, "writes are still buffered")

	require.NoError(t, m.Close(ctx))
	assert.False(t, s.Conversion().Running)

	keys, err = store.Keys(ctx, session.Namespace(token.SessionID))
	require.NoError(t, err)
	assert.Contains(t, keys, repository.KeyUploadedFiles)

	_, err = m.Get(ctx, token.SessionID)
	assert.ErrorIs(t, err, service.ErrClosed)
	require.NoError(t, debounced.Close(ctx))
}
