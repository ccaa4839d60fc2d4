// Package sessionstore defines the persistence layer for build session
// records, finished or in progress.
//
// The Store interface abstracts session history storage, allowing
// different backend implementations. Available implementations:
//
//   - memory: in-memory store for development and default deployments
//   - mongo: MongoDB store for durable, queryable history
//
// This is an audit log, not a cache: nothing here is consulted to
// decide whether to run a compile, only to report history after the
// fact (spec §1 Non-goals; SPEC_FULL.md §B.3).
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/wuild-project/wuild/runtime/model"
)

// ErrNotFound is returned when a session record is not found in the store.
var ErrNotFound = errors.New("session not found")

// Record is one build session: the client-side accumulated usage
// counters plus wall-clock bounds. EndedAt is zero while the session
// is still in progress.
type Record struct {
	SessionId int64
	ClientId  string
	StartedAt time.Time
	EndedAt   time.Time
	Info      model.ToolServerSessionInfo
}

// Store persists build session records. Implementations must be safe
// for concurrent use.
type Store interface {
	// SaveSession stores or updates a session record. If a record with
	// the same SessionId already exists, it is replaced.
	SaveSession(ctx context.Context, rec Record) error

	// GetSession retrieves a session record by id. Returns ErrNotFound
	// if no such session exists.
	GetSession(ctx context.Context, sessionId int64) (Record, error)

	// ListSessions returns all session records for clientId, ordered by
	// StartedAt ascending. If clientId is empty, returns every session.
	ListSessions(ctx context.Context, clientId string) ([]Record, error)
}
