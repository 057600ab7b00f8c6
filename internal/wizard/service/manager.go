// Package service holds the wizard sessions: it loads them from the store,
// runs their operations and evicts idle ones from memory.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docflow/docflow-backend/internal/wizard/generator"
	"github.com/docflow/docflow-backend/internal/wizard/history"
	"github.com/docflow/docflow-backend/internal/wizard/orchestrator"
	"github.com/docflow/docflow-backend/internal/wizard/repository"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/session"
)

// ErrClosed is returned once the manager has shut down
var ErrClosed = errors.New("session manager closed")

// Flusher writes buffered state through to storage
type Flusher interface {
	Flush(ctx context.Context) error
}

// ResetNotifier is told when a session starts over
type ResetNotifier interface {
	SessionReset(ctx context.Context, sessionID string)
}

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Issue(sessionID string) (*session.Token, error)
}

// Deps are the collaborators shared by all sessions
type Deps struct {
	Repo      *repository.Repository
	Store     Flusher // optional
	History   *history.Service
	Resets    ResetNotifier // optional
	Converter orchestrator.Converter
	Generator generator.Generator
	Tokens    TokenIssuer
}

// Options tune the sessions
type Options struct {
	Conversion        orchestrator.ConversionOptions
	GenerationTimeout time.Duration
	// IdleTTL evicts sessions from memory after this long without a
	// request. Zero keeps them forever.
	IdleTTL time.Duration
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Manager owns the in-memory sessions
type Manager struct {
	deps Deps
	opts Options
	log  *logger.Logger
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a manager and starts the idle eviction loop
func NewManager(deps Deps, opts Options, log *logger.Logger) *Manager {
	m := &Manager{
		deps:     deps,
		opts:     opts,
		log:      log.WithComponent("session_manager"),
		now:      time.Now,
		sessions: make(map[string]*entry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if opts.IdleTTL > 0 {
		go m.cleanupLoop()
	} else {
		close(m.done)
	}
	return m
}

// Create starts a new session and returns its token
func (m *Manager) Create(ctx context.Context) (*session.Token, error) {
	id := uuid.New().String()

	// the step marks the session as existing in the store
	if err := m.deps.Repo.SaveStep(ctx, id, 0); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	token, err := m.deps.Tokens.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	m.log.Info().Str("session_id", id).Msg("session created")
	return token, nil
}

// Get returns the session, loading it from the store when it is not in
// memory. The whole state is loaded before the session is served.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := m.sessions[id]; ok {
		e.lastSeen = m.now()
		m.mu.Unlock()
		return e.session, nil
	}
	m.mu.Unlock()

	state, err := m.deps.Repo.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if e, ok := m.sessions[id]; ok {
		e.lastSeen = m.now()
		return e.session, nil
	}

	s := newSession(m, id, state)
	m.sessions[id] = &entry{session: s, lastSeen: m.now()}

	m.log.Debug().
		Str("session_id", id).
		Str("workflow", string(state.Workflow)).
		Int("documents", len(state.Documents)).
		Msg("session loaded")
	return s, nil
}

// Len returns the number of sessions held in memory
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Invalidate drops a session from memory and cancels its tasks, e.g.
// after another instance reset it. The next request reloads it.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		e.session.cancelTasks()
		m.log.Info().Str("session_id", id).Msg("session invalidated")
	}
}

// Close cancels all running tasks, waits for them and flushes the store
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	var tasks []*orchestrator.Task
	for _, s := range sessions {
		tasks = append(tasks, s.cancelTasks()...)
	}
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			return fmt.Errorf("failed waiting for tasks: %w", err)
		}
	}

	if m.deps.Store != nil {
		if err := m.deps.Store.Flush(ctx); err != nil {
			return fmt.Errorf("failed to flush store: %w", err)
		}
	}
	m.log.Info().Int("sessions", len(sessions)).Msg("session manager closed")
	return nil
}

func (m *Manager) flush() {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.Flush(context.Background()); err != nil {
		m.log.Error().Err(err).Msg("failed to flush store")
	}
}

// cleanupLoop periodically evicts idle sessions
func (m *Manager) cleanupLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup evicts sessions idle for longer than the TTL. A session with a
// running task stays in memory.
func (m *Manager) cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.opts.IdleTTL)
	evicted := 0
	for id, e := range m.sessions {
		if e.lastSeen.After(cutoff) || e.session.busy() {
			continue
		}
		delete(m.sessions, id)
		m.deps.History.Forget(id)
		evicted++
	}
	if evicted > 0 {
		m.log.Info().Int("evicted", evicted).Int("remaining", len(m.sessions)).Msg("idle sessions evicted")
	}
	return evicted
}
