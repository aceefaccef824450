// Package memstore implements flowstore.Store in process memory.
//
// Every session has its own lock so writers to different sessions never
// contend. Snapshots are stored as immutable values and swapped under the
// lock; readers copy the current snapshot and never observe a half-applied
// update.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/port/flowstore"
)

type entry struct {
	mu   sync.RWMutex
	snap flow.Session
}

// Store is an in-memory flow session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

var _ flowstore.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

// Create inserts a new session.
func (s *Store) Create(_ context.Context, sess *flow.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("create session: id is required: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("create session %s: %w", sess.ID, domain.ErrConflict)
	}
	s.sessions[sess.ID] = &entry{snap: sess.Clone()}
	return nil
}

// Get returns a copy of the current snapshot.
func (s *Store) Get(_ context.Context, id string) (*flow.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
	}
	e.mu.RLock()
	out := e.snap.Clone()
	e.mu.RUnlock()
	return &out, nil
}

// Update applies fn under the session's write lock.
func (s *Store) Update(_ context.Context, id string, fn flowstore.Mutator) (*flow.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("update session %s: %w", id, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.snap.Clone())
	if err != nil {
		return nil, err
	}
	if next.ID != e.snap.ID || next.InputText != e.snap.InputText {
		return nil, fmt.Errorf("update session %s: immutable field changed: %w", id, domain.ErrConflict)
	}
	e.snap = next.Clone()
	out := next.Clone()
	return &out, nil
}

// List returns up to limit sessions, newest first. limit <= 0 means all.
func (s *Store) List(_ context.Context, limit int) ([]flow.Session, error) {
	out := s.snapshot(func(flow.Session) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRunning returns all sessions still running, oldest first.
func (s *Store) ListRunning(_ context.Context) ([]flow.Session, error) {
	out := s.snapshot(func(f flow.Session) bool { return f.Status == flow.StatusRunning })
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) snapshot(keep func(flow.Session) bool) []flow.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]flow.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		snap := e.snap.Clone()
		e.mu.RUnlock()
		if keep(snap) {
			out = append(out, snap)
		}
	}
	return out
}
