// Package memory provides the in-process session value store. The SQL
// backends embed it as their read path and snapshot it after each write.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"paramflow/pkg/domain"
)

var _ domain.ValueStore = (*Store)(nil)

// Snapshot is the full store content keyed by session id.
type Snapshot map[string]domain.Values

// Store keeps session values in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Values
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]domain.Values)}
}

// Load returns a copy of the values saved for sessionID.
func (s *Store) Load(_ context.Context, sessionID string) (domain.Values, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return values.Clone(), true, nil
}

// Save replaces the values for sessionID.
func (s *Store) Save(_ context.Context, sessionID string, values domain.Values) error {
	s.mu.Lock()
	s.sessions[sessionID] = values.Clone()
	s.mu.Unlock()
	return nil
}

// Delete drops sessionID, reporting whether it existed.
func (s *Store) Delete(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Sessions lists stored session ids in sorted order.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.sessions))
}

// ExportState returns a deep copy of the store content.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.sessions))
	for id, values := range s.sessions {
		out[id] = values.Clone()
	}
	return out
}

// ImportState replaces the store content with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]domain.Values, len(snapshot))
	for id, values := range snapshot {
		s.sessions[id] = values.Clone()
	}
}
