// Package memory provides an in-memory implementation of sessionstore.Store.
//
// Suitable for development and single-node deployments where history
// need not survive a restart; this is the default store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/wuild-project/wuild/runtime/sessionstore"
)

// Store is an in-memory implementation of sessionstore.Store. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]sessionstore.Record
}

var _ sessionstore.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{sessions: make(map[int64]sessionstore.Record)}
}

// SaveSession stores or updates a session record.
func (s *Store) SaveSession(ctx context.Context, rec sessionstore.Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.SessionId] = rec
	return nil
}

// GetSession retrieves a session record by id.
func (s *Store) GetSession(ctx context.Context, sessionId int64) (sessionstore.Record, error) {
	select {
	case <-ctx.Done():
		return sessionstore.Record{}, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionId]
	if !ok {
		return sessionstore.Record{}, sessionstore.ErrNotFound
	}
	return rec, nil
}

// ListSessions returns every session for clientId (or all sessions if
// clientId is empty), ordered by StartedAt ascending.
func (s *Store) ListSessions(ctx context.Context, clientId string) ([]sessionstore.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]sessionstore.Record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if clientId == "" || rec.ClientId == clientId {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}
