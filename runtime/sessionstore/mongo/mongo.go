// Package mongo provides a MongoDB implementation of sessionstore.Store.
//
// Persists build session records for durability across
// restarts, suitable for fleets that want post-hoc build history
// beyond a single coordinator's process lifetime.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/sessionstore"
)

// Store is a MongoDB implementation of sessionstore.Store.
type Store struct {
	collection *mongo.Collection
}

var _ sessionstore.Store = (*Store)(nil)

// sessionDocument is the MongoDB document representation of a Record.
type sessionDocument struct {
	SessionId            int64     `bson:"_id"`
	ClientId              string    `bson:"client_id"`
	StartedAt             time.Time `bson:"started_at"`
	EndedAt               time.Time `bson:"ended_at"`
	TasksCount            uint32    `bson:"tasks_count"`
	FailuresCount         uint32    `bson:"failures_count"`
	TotalNetworkTimeNs    int64     `bson:"total_network_time_ns"`
	TotalExecutionTimeNs  int64     `bson:"total_execution_time_ns"`
	ElapsedTimeNs         int64     `bson:"elapsed_time_ns"`
	CurrentUsedThreads    uint32    `bson:"current_used_threads"`
	MaxUsedThreads        uint32    `bson:"max_used_threads"`
}

// New creates a new MongoDB store using the provided collection. The
// collection should be from a connected MongoDB client.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// SaveSession stores or updates a session record in MongoDB.
func (s *Store) SaveSession(ctx context.Context, rec sessionstore.Record) error {
	doc := toDocument(rec)
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.SessionId}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save session %d: %w", rec.SessionId, err)
	}
	return nil
}

// GetSession retrieves a session record by id from MongoDB.
func (s *Store) GetSession(ctx context.Context, sessionId int64) (sessionstore.Record, error) {
	var doc sessionDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": sessionId}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return sessionstore.Record{}, sessionstore.ErrNotFound
		}
		return sessionstore.Record{}, fmt.Errorf("mongodb get session %d: %w", sessionId, err)
	}
	return fromDocument(&doc), nil
}

// ListSessions returns all session records for clientId from MongoDB,
// ordered by StartedAt ascending. If clientId is empty, returns every
// session.
func (s *Store) ListSessions(ctx context.Context, clientId string) ([]sessionstore.Record, error) {
	filter := bson.M{}
	if clientId != "" {
		filter["client_id"] = clientId
	}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongodb list sessions: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list sessions decode: %w", err)
	}
	result := make([]sessionstore.Record, len(docs))
	for i, doc := range docs {
		result[i] = fromDocument(&doc)
	}
	return result, nil
}

func toDocument(rec sessionstore.Record) *sessionDocument {
	return &sessionDocument{
		SessionId:            rec.SessionId,
		ClientId:             rec.ClientId,
		StartedAt:            rec.StartedAt,
		EndedAt:              rec.EndedAt,
		TasksCount:           rec.Info.TasksCount,
		FailuresCount:        rec.Info.FailuresCount,
		TotalNetworkTimeNs:   rec.Info.TotalNetworkTimeNs,
		TotalExecutionTimeNs: rec.Info.TotalExecutionTimeNs,
		ElapsedTimeNs:        rec.Info.ElapsedTimeNs,
		CurrentUsedThreads:   rec.Info.CurrentUsedThreads,
		MaxUsedThreads:       rec.Info.MaxUsedThreads,
	}
}

func fromDocument(doc *sessionDocument) sessionstore.Record {
	return sessionstore.Record{
		SessionId: doc.SessionId,
		ClientId:  doc.ClientId,
		StartedAt: doc.StartedAt,
		EndedAt:   doc.EndedAt,
		Info: model.ToolServerSessionInfo{
			ClientId:             doc.ClientId,
			SessionId:            doc.SessionId,
			TasksCount:           doc.TasksCount,
			FailuresCount:        doc.FailuresCount,
			TotalNetworkTimeNs:   doc.TotalNetworkTimeNs,
			TotalExecutionTimeNs: doc.TotalExecutionTimeNs,
			ElapsedTimeNs:        doc.ElapsedTimeNs,
			CurrentUsedThreads:   doc.CurrentUsedThreads,
			MaxUsedThreads:       doc.MaxUsedThreads,
		},
	}
}
