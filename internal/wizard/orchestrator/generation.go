package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/generator"
	"github.com/docflow/docflow-backend/pkg/logger"
)

// CombinedFileName is the display name of the business workflow result
const CombinedFileName = "business_combined"

type generationItem struct {
	sourceID string
	fileName string
	call     func(ctx context.Context) (string, error)
}

// Generation produces the test cases of one session. Results live in
// memory only and are replaced on every launch.
type Generation struct {
	gen     generator.Generator
	timeout time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	results []domain.GenerationResult
	current string
	task    *Task
}

// NewGeneration creates a generation orchestrator; timeout bounds each call
func NewGeneration(gen generator.Generator, timeout time.Duration, log *logger.Logger) *Generation {
	return &Generation{
		gen:     gen,
		timeout: timeout,
		log:     log.WithComponent("generation"),
	}
}

// Results returns a copy of the current results
func (g *Generation) Results() []domain.GenerationResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.GenerationResult(nil), g.results...)
}

// Result returns the result for sourceID
func (g *Generation) Result(sourceID string) (domain.GenerationResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r := g.findLocked(sourceID); r != nil {
		return *r, true
	}
	return domain.GenerationResult{}, false
}

// Current returns the source being generated, if any
func (g *Generation) Current() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Running reports whether a generation task is in progress
func (g *Generation) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.task != nil && g.task.Running()
}

// Task returns the latest task, which may have finished
func (g *Generation) Task() *Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.task
}

// Start launches generation for the documents of workflow w
func (g *Generation) Start(w domain.Workflow, docs []domain.Document) (*Task, error) {
	switch w {
	case domain.WorkflowBusiness:
		return g.StartBusiness(docs)
	case domain.WorkflowValidation:
		return g.StartValidation(docs)
	}
	return nil, domain.ErrWorkflowNotSelected
}

// StartValidation sends one request per converted document, in order
func (g *Generation) StartValidation(docs []domain.Document) (*Task, error) {
	var items []generationItem
	for _, d := range docs {
		if d.Converted() {
			items = append(items, g.validationItem(d))
		}
	}
	if len(items) == 0 {
		return nil, ErrNothingToGenerate
	}
	return g.launch(items, true)
}

// StartBusiness sends the single combined request. It is rejected before
// any call when the business or detail-api document is not converted.
func (g *Generation) StartBusiness(docs []domain.Document) (*Task, error) {
	item, err := g.businessItem(docs)
	if err != nil {
		return nil, err
	}
	return g.launch([]generationItem{item}, true)
}

// Regenerate resubmits one source: a validation document, or the combined
// business request
func (g *Generation) Regenerate(w domain.Workflow, sourceID string, docs []domain.Document) (*Task, error) {
	if sourceID == domain.CombinedSourceID {
		if w != domain.WorkflowBusiness {
			return nil, ErrWorkflowNotAllowed
		}
		item, err := g.businessItem(docs)
		if err != nil {
			return nil, err
		}
		return g.launch([]generationItem{item}, false)
	}

	if w != domain.WorkflowValidation {
		return nil, ErrUnknownSource
	}
	doc, ok := domain.FindDocument(docs, sourceID)
	if !ok {
		return nil, ErrUnknownSource
	}
	if !doc.Converted() {
		return nil, ErrNothingToGenerate
	}
	return g.launch([]generationItem{g.validationItem(doc)}, false)
}

// Cancel aborts the running batch. Every result still pending or
// generating is marked cancelled. It returns the cancelled task, or nil
// when nothing was running.
func (g *Generation) Cancel() *Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.task
	if t == nil || !t.Running() || t.Cancelled() {
		return nil
	}
	t.Cancel()

	for i := range g.results {
		g.results[i].Cancel()
	}
	g.log.Info().Str("source_id", g.current).Msg("generation cancelled")
	g.current = ""
	return t
}

// Reset drops all results; a running task is cancelled first
func (g *Generation) Reset() *Task {
	t := g.Cancel()
	g.mu.Lock()
	g.results = nil
	g.mu.Unlock()
	return t
}

func (g *Generation) validationItem(doc domain.Document) generationItem {
	req := generator.NewValidationRequest(doc)
	return generationItem{
		sourceID: doc.ID,
		fileName: doc.Name,
		call: func(ctx context.Context) (string, error) {
			return g.gen.GenerateValidation(ctx, req)
		},
	}
}

func (g *Generation) businessItem(docs []domain.Document) (generationItem, error) {
	in, err := domain.CombineBusiness(docs)
	if err != nil {
		return generationItem{}, err
	}
	req := generator.NewBusinessRequest(in)
	return generationItem{
		sourceID: domain.CombinedSourceID,
		fileName: CombinedFileName,
		call: func(ctx context.Context) (string, error) {
			return g.gen.GenerateBusiness(ctx, req)
		},
	}, nil
}

// launch starts a task over items. A fresh launch replaces all results;
// otherwise only the results of items are reset.
func (g *Generation) launch(items []generationItem, fresh bool) (*Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.task != nil && g.task.Running() {
		return nil, ErrTaskRunning
	}

	if fresh {
		g.results = nil
	}
	for _, it := range items {
		pending := domain.GenerationResult{SourceID: it.sourceID, FileName: it.fileName, State: domain.GenerationPending}
		if r := g.findLocked(it.sourceID); r != nil {
			*r = pending
		} else {
			g.results = append(g.results, pending)
		}
	}

	g.log.Info().Int("items", len(items)).Bool("fresh", fresh).Msg("starting generation")

	g.task = startTask(func(ctx context.Context, t *Task) error {
		for _, it := range items {
			if ctx.Err() != nil {
				break
			}
			g.generateOne(ctx, t, it)
		}
		g.mu.Lock()
		if !t.Cancelled() {
			g.current = ""
		}
		g.mu.Unlock()
		return nil
	})
	return g.task, nil
}

func (g *Generation) generateOne(ctx context.Context, t *Task, it generationItem) {
	g.mu.Lock()
	if t.Cancelled() {
		g.mu.Unlock()
		return
	}
	r := g.findLocked(it.sourceID)
	if r == nil {
		g.mu.Unlock()
		return
	}
	r.State = domain.GenerationGenerating
	g.current = it.sourceID
	g.mu.Unlock()

	callCtx := ctx
	cancel := func() {}
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	start := time.Now()
	csv, err := it.call(callCtx)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Cancel has already marked the result
	if t.Cancelled() {
		return
	}
	g.current = ""
	r = g.findLocked(it.sourceID)
	if r == nil {
		return
	}

	if timedOut {
		err = fmt.Errorf("generation timed out after %s", g.timeout)
	}
	if err != nil {
		g.log.Warn().Err(err).Str("source_id", it.sourceID).Msg("generation failed")
		r.State = domain.GenerationError
		r.ErrorMessage = err.Error()
		return
	}

	g.log.Info().
		Str("source_id", it.sourceID).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("generation completed")
	r.State = domain.GenerationCompleted
	r.TabularData = csv
}

func (g *Generation) findLocked(sourceID string) *domain.GenerationResult {
	for i := range g.results {
		if g.results[i].SourceID == sourceID {
			return &g.results[i]
		}
	}
	return nil
}
