// Package results persists provisioning run outcomes to MongoDB, one
// document per run keyed by the run UUID.
package results

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Document struct {
	RunID      string    `bson:"_id"`
	Host       string    `bson:"host"`
	Kind       string    `bson:"kind"`
	Path       string    `bson:"path,omitempty"`
	ExitCode   int       `bson:"exit_code"`
	Stdout     string    `bson:"stdout,omitempty"`
	Stderr     string    `bson:"stderr,omitempty"`
	Error      string    `bson:"error,omitempty"`
	StartedAt  time.Time `bson:"started_at"`
	FinishedAt time.Time `bson:"finished_at"`
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func New(ctx context.Context, uri, dbName, collName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &Store{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
	}, nil
}

// Save upserts the run document so a re-delivered job overwrites its own
// earlier record instead of duplicating it.
func (s *Store) Save(ctx context.Context, doc Document) error {
	_, err := s.coll.ReplaceOne(
		ctx,
		bson.M{"_id": doc.RunID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", doc.RunID, err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
