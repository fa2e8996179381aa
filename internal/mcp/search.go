package mcp

import (
	"context"
	"sort"
	"strings"

	"rolecraft/internal/graph"
	"rolecraft/internal/index"
	"rolecraft/internal/store"
)

// SnapshotSearcher answers search_lore from the in-memory index when no
// database is configured.
type SnapshotSearcher struct {
	Snapshot *graph.Snapshot
	Index    *index.Index
}

var _ LoreSearcher = (*SnapshotSearcher)(nil)

func (s *SnapshotSearcher) Search(ctx context.Context, query, entityType string, limit int) ([]store.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}

	var results []store.SearchResult
	for _, kind := range graph.Kinds {
		for _, hit := range s.Index.Query(query, kind, index.GranularityEntity, 0) {
			e, ok := s.Snapshot.Entity(hit.ID)
			if !ok {
				continue
			}
			if entityType != "" && !strings.EqualFold(e.Type, entityType) {
				continue
			}
			results = append(results, store.SearchResult{
				ID:         e.ID,
				Name:       e.Name,
				EntityType: e.Type,
				Score:      hit.Score,
				Snippet:    store.Snippet(e),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
