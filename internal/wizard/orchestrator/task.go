// Package orchestrator runs the conversion and generation batches of a
// wizard session. Each orchestrator owns at most one running Task.
package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
)

// Orchestrator errors
var (
	ErrTaskRunning        = errors.New("a task is already running")
	ErrNoDocuments        = errors.New("no documents to process")
	ErrEmptyDocument      = errors.New("document has no content")
	ErrNothingToGenerate  = errors.New("no converted documents to generate from")
	ErrUnknownSource      = errors.New("unknown generation source")
	ErrWorkflowNotAllowed = errors.New("operation not available for workflow")
)

// Task is a handle on a background batch
type Task struct {
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	cancelled atomic.Bool
}

// startTask runs fn in its own goroutine. ctx is detached from the caller's
// request; only Cancel stops the task.
func startTask(fn func(ctx context.Context, t *Task) error) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()
		t.err = fn(ctx, t)
	}()

	return t
}

// Cancel aborts the task, including its in-flight request
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed when the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the task has not finished yet
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the task finishes or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
