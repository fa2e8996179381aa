package retrieval

import (
	"context"
	"errors"

	"rolecraft/internal/graph"
	"rolecraft/internal/index"
	"rolecraft/internal/metrics"
)

var ErrNoIndex = errors.New("lexical index not built")

// IndexRetriever answers a sub-query from the lexical index at both entity
// and community granularity, scoped to the sub-query's kind.
type IndexRetriever struct {
	Index           *index.Index
	Snapshot        *graph.Snapshot
	TopKEntities    int
	TopKCommunities int
}

var _ Retriever = (*IndexRetriever)(nil)

func (r *IndexRetriever) Retrieve(ctx context.Context, q SubQuery) ([]Chunk, error) {
	if r == nil || r.Index == nil {
		return nil, ErrNoIndex
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, g := range index.Granularities {
		k := r.TopKEntities
		if g == index.GranularityCommunity {
			k = r.TopKCommunities
		}
		metrics.IndexQueries.WithLabelValues(q.Kind.String(), g.String()).Inc()
		for _, hit := range r.Index.Query(q.Text, q.Kind, g, k) {
			text, ok := r.Snapshot.Render(hit.ID)
			if !ok {
				text = hit.ID
			}
			chunks = append(chunks, Chunk{
				SourceQuery: q.Text,
				ID:          hit.ID,
				Kind:        q.Kind,
				Granularity: g,
				Text:        text,
				Score:       hit.Score,
			})
		}
	}
	return chunks, nil
}
