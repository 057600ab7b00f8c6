// Package history keeps the Markdown history of a session: converted
// documents promoted for later reuse.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/repository"
	"github.com/docflow/docflow-backend/pkg/logger"
)

var (
	ErrEntryNotFound = errors.New("history entry not found")
	ErrEmptyEntry    = errors.New("history entry has no content")
)

// ChangeKind tells what happened to the history
type ChangeKind string

const (
	ChangeAppended ChangeKind = "appended"
	ChangeRemoved  ChangeKind = "removed"
)

// Change describes one modification of a session's history
type Change struct {
	SessionID string
	Kind      ChangeKind
	EntryIDs  []string
	Count     int // entries after the change
}

// Notifier is told about every persisted change
type Notifier interface {
	HistoryChanged(ctx context.Context, change Change)
}

// Service manages the history of all sessions
type Service struct {
	repo     *repository.Repository
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time

	locks sync.Map // session id -> *sync.Mutex
}

// NewService creates a history service. notifier may be nil.
func NewService(repo *repository.Repository, notifier Notifier, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		log:      log.WithComponent("history"),
		now:      time.Now,
	}
}

func (s *Service) lock(sessionID string) func() {
	m, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Forget drops the lock of a session that is no longer served
func (s *Service) Forget(sessionID string) {
	s.locks.Delete(sessionID)
}

// List returns the entries of a session, newest first
func (s *Service) List(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	entries, err := s.repo.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// Append prepends entries to the history. Missing ids and timestamps are
// filled in and file names get the .md extension.
func (s *Service) Append(ctx context.Context, sessionID string, entries []domain.HistoryEntry) ([]domain.HistoryEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	added := make([]domain.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Content) == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyEntry, e.FileName)
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		e.FileName = domain.MarkdownFileName(e.FileName)
		added = append(added, e)
	}

	unlock := s.lock(sessionID)
	current, err := s.repo.LoadHistory(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	next := append(append([]domain.HistoryEntry(nil), added...), current...)
	if err := s.repo.SaveHistory(ctx, sessionID, next); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to save history: %w", err)
	}
	unlock()

	s.log.Info().
		Str("session_id", sessionID).
		Int("added", len(added)).
		Int("total", len(next)).
		Msg("history entries appended")

	s.notify(ctx, Change{SessionID: sessionID, Kind: ChangeAppended, EntryIDs: entryIDs(added), Count: len(next)})
	return added, nil
}

// Remove deletes one entry; the order of the others is kept
func (s *Service) Remove(ctx context.Context, sessionID, entryID string) error {
	unlock := s.lock(sessionID)
	current, err := s.repo.LoadHistory(ctx, sessionID)
	if err != nil {
		unlock()
		return fmt.Errorf("failed to load history: %w", err)
	}

	next := make([]domain.HistoryEntry, 0, len(current))
	for _, e := range current {
		if e.ID != entryID {
			next = append(next, e)
		}
	}
	if len(next) == len(current) {
		unlock()
		return ErrEntryNotFound
	}
	if err := s.repo.SaveHistory(ctx, sessionID, next); err != nil {
		unlock()
		return fmt.Errorf("failed to save history: %w", err)
	}
	unlock()

	s.log.Info().Str("session_id", sessionID).Str("entry_id", entryID).Msg("history entry removed")

	s.notify(ctx, Change{SessionID: sessionID, Kind: ChangeRemoved, EntryIDs: []string{entryID}, Count: len(next)})
	return nil
}

// Select returns the entries with the given ids, in the order asked for
func (s *Service) Select(ctx context.Context, sessionID string, ids []string) ([]domain.HistoryEntry, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	current, err := s.repo.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	byID := make(map[string]domain.HistoryEntry, len(current))
	for _, e := range current {
		byID[e.ID] = e
	}

	selected := make([]domain.HistoryEntry, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		selected = append(selected, e)
	}
	return selected, nil
}

func (s *Service) notify(ctx context.Context, change Change) {
	if s.notifier == nil {
		return
	}
	s.notifier.HistoryChanged(ctx, change)
}

func entryIDs(entries []domain.HistoryEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
