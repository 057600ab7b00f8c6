package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docflow/docflow-backend/internal/wizard/converter"
	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/pkg/logger"
)

// Converter is the backend a conversion run calls for every document
type Converter interface {
	Convert(ctx context.Context, req converter.Request) (string, error)
}

// ConversionOptions tune a conversion run
type ConversionOptions struct {
	// Delay is the pause between two documents of a batch
	Delay time.Duration
	// Timeout bounds the conversion of one document, every converter
	// attempt included
	Timeout time.Duration
}

// ConversionRun describes a finished conversion task
type ConversionRun struct {
	Workflow  domain.Workflow
	Statuses  []domain.ConversionStatus
	Documents []string          // ids of the documents in the run
	Results   map[string]string // completed results of the documents in the run
	Cancelled bool
}

// Apply mirrors the run into docs and reports how many changed. Documents
// of the run that did not complete lose their converted content.
func (r ConversionRun) Apply(docs []domain.Document) int {
	changed := 0
	for _, id := range r.Documents {
		for i := range docs {
			if docs[i].ID != id {
				continue
			}
			if result := r.Results[id]; docs[i].ConvertedContent != result {
				docs[i].ConvertedContent = result
				changed++
			}
		}
	}
	return changed
}

// ConversionHooks receive the state changes of a Conversion.
// OnChange runs under the orchestrator lock and must not call back into it.
type ConversionHooks struct {
	OnChange func(w domain.Workflow, statuses []domain.ConversionStatus)
	OnFinish func(run ConversionRun)
}

// Conversion converts the documents of one session, one at a time
type Conversion struct {
	conv  Converter
	opts  ConversionOptions
	hooks ConversionHooks
	log   *logger.Logger

	mu       sync.Mutex
	statuses []domain.ConversionStatus
	workflow domain.Workflow
	current  string
	task     *Task
}

// NewConversion creates a conversion orchestrator
func NewConversion(conv Converter, opts ConversionOptions, hooks ConversionHooks, log *logger.Logger) *Conversion {
	return &Conversion{
		conv:  conv,
		opts:  opts,
		hooks: hooks,
		log:   log.WithComponent("conversion"),
	}
}

// Restore replaces the statuses, e.g. with the ones loaded from storage
func (c *Conversion) Restore(w domain.Workflow, statuses []domain.ConversionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflow = w
	c.statuses = append([]domain.ConversionStatus(nil), statuses...)
}

// Statuses returns a copy of the current statuses
func (c *Conversion) Statuses() []domain.ConversionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Status returns the status of one document
func (c *Conversion) Status(documentID string) (domain.ConversionStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.findLocked(documentID); st != nil {
		return *st, true
	}
	return domain.ConversionStatus{}, false
}

// Running reports whether a conversion task is in progress
func (c *Conversion) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningLocked()
}

// Current returns the id of the document being converted, if any
func (c *Conversion) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Task returns the latest task, which may have finished
func (c *Conversion) Task() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task
}

// ConvertAll resets every status to pending and converts docs in order.
func (c *Conversion) ConvertAll(docs []domain.Document, w domain.Workflow) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runningLocked() {
		return nil, ErrTaskRunning
	}
	if !w.Valid() {
		return nil, domain.ErrWorkflowNotSelected
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	docs = append([]domain.Document(nil), docs...)
	c.workflow = w
	c.statuses = make([]domain.ConversionStatus, len(docs))
	for i, d := range docs {
		c.statuses[i] = domain.PendingStatus(d.ID)
	}
	c.changedLocked()

	c.log.Info().
		Str("workflow", string(w)).
		Int("documents", len(docs)).
		Msg("starting conversion batch")

	c.task = startTask(func(ctx context.Context, t *Task) error {
		ids := make([]string, 0, len(docs))
		for i, doc := range docs {
			if i > 0 && c.opts.Delay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(c.opts.Delay):
				}
			}
			if ctx.Err() != nil {
				break
			}
			ids = append(ids, doc.ID)
			c.convertOne(ctx, t, doc, w)
		}
		c.finish(t, w, ids)
		return nil
	})
	return c.task, nil
}

// Regenerate converts a single document again. Other statuses are untouched.
func (c *Conversion) Regenerate(doc domain.Document, w domain.Workflow) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runningLocked() {
		return nil, ErrTaskRunning
	}
	if !w.Valid() {
		return nil, domain.ErrWorkflowNotSelected
	}
	if !doc.HasContent() {
		return nil, ErrEmptyDocument
	}

	c.workflow = w
	if c.findLocked(doc.ID) == nil {
		c.statuses = append(c.statuses, domain.PendingStatus(doc.ID))
	}

	c.log.Info().
		Str("workflow", string(w)).
		Str("document_id", doc.ID).
		Msg("regenerating conversion")

	c.task = startTask(func(ctx context.Context, t *Task) error {
		c.convertOne(ctx, t, doc, w)
		c.finish(t, w, []string{doc.ID})
		return nil
	})
	return c.task, nil
}

// Cancel stops the running task. The document being converted goes back
// to pending; completed documents keep their result. It returns the
// cancelled task, or nil when nothing was running.
func (c *Conversion) Cancel() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.task
	if t == nil || !t.Running() || t.Cancelled() {
		return nil
	}
	t.Cancel()

	if st := c.findLocked(c.current); st != nil && st.State == domain.ConversionConverting {
		if err := st.Rollback(); err != nil {
			c.log.Error().Err(err).Str("document_id", c.current).Msg("failed to roll back status")
		}
	}
	c.log.Info().Str("document_id", c.current).Msg("conversion cancelled")
	c.current = ""
	c.changedLocked()
	return t
}

// Sync aligns the statuses with docs after documents were added or removed
func (c *Conversion) Sync(w domain.Workflow, docs []domain.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID := make(map[string]domain.ConversionStatus, len(c.statuses))
	for _, s := range c.statuses {
		byID[s.DocumentID] = s
	}
	next := make([]domain.ConversionStatus, 0, len(docs))
	for _, d := range docs {
		s, ok := byID[d.ID]
		if !ok {
			s = domain.PendingStatus(d.ID)
		}
		next = append(next, s)
	}
	c.workflow = w
	c.statuses = next
	c.changedLocked()
}

func (c *Conversion) convertOne(ctx context.Context, t *Task, doc domain.Document, w domain.Workflow) {
	c.mu.Lock()
	if t.Cancelled() {
		c.mu.Unlock()
		return
	}
	st := c.findLocked(doc.ID)
	if st == nil {
		c.mu.Unlock()
		return
	}
	if err := st.Start(); err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Str("document_id", doc.ID).Msg("cannot start conversion")
		return
	}
	c.current = doc.ID
	c.changedLocked()
	c.mu.Unlock()

	callCtx := ctx
	cancel := func() {}
	if c.opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
	}
	start := time.Now()
	result, err := c.conv.Convert(callCtx, converter.NewRequest(doc, w))
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Cancel has already rolled the document back
	if t.Cancelled() {
		return
	}
	c.current = ""
	st = c.findLocked(doc.ID)
	if st == nil {
		return
	}

	switch {
	case timedOut:
		err = fmt.Errorf("conversion timed out after %s", c.opts.Timeout)
		fallthrough
	case err != nil:
		c.log.Warn().Err(err).
			Str("document_id", doc.ID).
			Str("file_name", doc.Name).
			Msg("conversion failed")
		_ = st.Fail(err.Error())
	case strings.TrimSpace(result) == "":
		_ = st.Fail("conversion returned no content")
	default:
		c.log.Info().
			Str("document_id", doc.ID).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("document converted")
		_ = st.Complete(result)
	}
	c.changedLocked()
}

func (c *Conversion) finish(t *Task, w domain.Workflow, ids []string) {
	c.mu.Lock()
	run := ConversionRun{
		Workflow:  w,
		Statuses:  c.snapshotLocked(),
		Documents: ids,
		Results:   make(map[string]string),
		Cancelled: t.Cancelled(),
	}
	for _, id := range ids {
		if st := c.findLocked(id); st != nil && st.State == domain.ConversionCompleted {
			run.Results[id] = st.Result
		}
	}
	c.mu.Unlock()

	c.log.Info().
		Str("workflow", string(w)).
		Int("completed", len(run.Results)).
		Bool("cancelled", run.Cancelled).
		Msg("conversion task finished")

	if c.hooks.OnFinish != nil {
		c.hooks.OnFinish(run)
	}
}

func (c *Conversion) runningLocked() bool {
	return c.task != nil && c.task.Running()
}

func (c *Conversion) findLocked(documentID string) *domain.ConversionStatus {
	if documentID == "" {
		return nil
	}
	for i := range c.statuses {
		if c.statuses[i].DocumentID == documentID {
			return &c.statuses[i]
		}
	}
	return nil
}

func (c *Conversion) snapshotLocked() []domain.ConversionStatus {
	return append([]domain.ConversionStatus(nil), c.statuses...)
}

func (c *Conversion) changedLocked() {
	if c.hooks.OnChange != nil && c.workflow.Valid() {
		c.hooks.OnChange(c.workflow, c.snapshotLocked())
	}
}
