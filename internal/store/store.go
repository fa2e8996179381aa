package store

import (
	"context"

	"rolecraft/internal/graph"
	"rolecraft/internal/memory"
)

// Store persists the lore graph and the conversation memory. The graph side
// is written by ingest and read back as a graph.Document.
type Store interface {
	Close(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	ResetGraph(ctx context.Context) error
	UpsertEntity(ctx context.Context, e graph.Entity) error
	UpsertRelationship(ctx context.Context, r graph.Relationship) error
	UpsertCommunity(ctx context.Context, c graph.Community) error
	RecordSources(ctx context.Context, hashes map[string]string) error
	SourceHashes(ctx context.Context) (map[string]string, error)

	LoadDocument(ctx context.Context) (*graph.Document, error)
	Search(ctx context.Context, query, entityType string, limit int) ([]SearchResult, error)

	memory.Persister
	ResetMemory(ctx context.Context) error
}
