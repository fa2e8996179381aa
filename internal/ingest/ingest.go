package ingest

import (
	"context"
	"errors"
	"fmt"

	"rolecraft/internal/config"
	"rolecraft/internal/graph"
)

var ErrInvalidGraph = errors.New("graph has validation errors")

// Store is the write side of store.Store that ingest needs.
type Store interface {
	EnsureSchema(ctx context.Context) error
	ResetGraph(ctx context.Context) error
	UpsertEntity(ctx context.Context, e graph.Entity) error
	UpsertRelationship(ctx context.Context, r graph.Relationship) error
	UpsertCommunity(ctx context.Context, c graph.Community) error
	RecordSources(ctx context.Context, hashes map[string]string) error
	SourceHashes(ctx context.Context) (map[string]string, error)
}

type Result struct {
	Unchanged             bool
	EntitiesUpserted      int
	RelationshipsUpserted int
	CommunitiesUpserted   int
	FilesSkipped          int
	Report                *graph.Report
	Errors                []error
}

type Options struct {
	Full bool
}

// Run loads the configured graph sources and rewrites the stored graph when
// any source changed. A graph with validation errors is never written.
func Run(ctx context.Context, cfg *config.ProjectConfig, schema *config.Schema, db Store, options Options) (*Result, error) {
	if err := db.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	src, err := Load(cfg.Graph)
	if err != nil {
		return nil, err
	}

	result := &Result{
		FilesSkipped: src.FilesSkipped,
		Errors:       src.Errors,
		Report:       graph.Validate(graph.New(src.Document, schema)),
	}
	if result.Report.HasErrors() {
		return result, ErrInvalidGraph
	}

	if !options.Full {
		existing, err := db.SourceHashes(ctx)
		if err != nil {
			return nil, fmt.Errorf("get source hashes: %w", err)
		}
		if sameHashes(existing, src.Hashes) {
			result.Unchanged = true
			result.FilesSkipped += len(src.Hashes)
			return result, nil
		}
	}

	if err := db.ResetGraph(ctx); err != nil {
		return nil, fmt.Errorf("reset graph: %w", err)
	}

	for _, e := range src.Document.Entities {
		if err := db.UpsertEntity(ctx, e); err != nil {
			return nil, fmt.Errorf("upserting entity %s: %w", e.ID, err)
		}
		result.EntitiesUpserted++
	}
	for _, r := range src.Document.Relationships {
		if err := db.UpsertRelationship(ctx, r); err != nil {
			return nil, fmt.Errorf("upserting relationship %s -> %s: %w", r.SourceID, r.TargetID, err)
		}
		result.RelationshipsUpserted++
	}
	for _, c := range src.Document.Communities {
		if err := db.UpsertCommunity(ctx, c); err != nil {
			return nil, fmt.Errorf("upserting community %s: %w", c.ID, err)
		}
		result.CommunitiesUpserted++
	}

	if err := db.RecordSources(ctx, src.Hashes); err != nil {
		return nil, fmt.Errorf("recording sources: %w", err)
	}
	return result, nil
}

func sameHashes(a, b map[string]string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for path, hash := range b {
		if a[path] != hash {
			return false
		}
	}
	return true
}
