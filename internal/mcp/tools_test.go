package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rolecraft/internal/agent"
	"rolecraft/internal/graph"
	"rolecraft/internal/index"
	"rolecraft/internal/memory"
	"rolecraft/internal/retrieval"
	"rolecraft/internal/store"
)

type mockAnswerer struct {
	bundle    *agent.ContextBundle
	err       error
	turns     []memory.Turn
	lastQuery string
}

func (m *mockAnswerer) AnswerContext(ctx context.Context, query string) (*agent.ContextBundle, error) {
	m.lastQuery = query
	return m.bundle, m.err
}

func (m *mockAnswerer) Turns() []memory.Turn {
	return m.turns
}

type mockSearcher struct {
	results   []store.SearchResult
	err       error
	lastQuery string
	lastType  string
	lastLimit int
}

func (m *mockSearcher) Search(ctx context.Context, query, entityType string, limit int) ([]store.SearchResult, error) {
	m.lastQuery = query
	m.lastType = entityType
	m.lastLimit = limit
	return m.results, m.err
}

func loadSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	snap, err := graph.LoadFile(filepath.Join("..", "graph", "testdata", "snapshot.yaml"), nil)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return snap
}

func TestAnswerContext(t *testing.T) {
	answerer := &mockAnswerer{bundle: &agent.ContextBundle{
		CycleID:   "cycle-1",
		Query:     "七七是谁",
		TurnIndex: 0,
		State:     retrieval.StateSatisfied,
		Chunks: []retrieval.Chunk{
			{ID: "c7", Kind: graph.KindCharacter, Granularity: index.GranularityEntity, Text: "七七", Score: 0.6, SourceQuery: "七七"},
		},
		SubQueries: []retrieval.SubQuery{{Text: "七七", Kind: graph.KindCharacter, Priority: retrieval.PriorityNamed}},
		Iterations: 1,
	}}
	server := NewServer(answerer, loadSnapshot(t), &mockSearcher{}, "test")

	_, output, err := server.handleAnswerContext(context.Background(), nil, AnswerContextInput{Query: "七七是谁"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answerer.lastQuery != "七七是谁" {
		t.Fatalf("unexpected query %q", answerer.lastQuery)
	}
	if output.State != "SATISFIED" || output.CycleID != "cycle-1" {
		t.Fatalf("unexpected output: %+v", output)
	}
	if len(output.Chunks) != 1 || output.Chunks[0].Kind != "character" || output.Chunks[0].Granularity != "entity" {
		t.Fatalf("unexpected chunks: %+v", output.Chunks)
	}
	if len(output.SubQueries) != 1 || output.SubQueries[0].Priority != 3 || output.SubQueries[0].Type != "character" {
		t.Fatalf("unexpected sub-queries: %+v", output.SubQueries)
	}
	if output.CachedSubQueries == nil || output.CallbackTurns == nil {
		t.Fatalf("expected empty slices, not nil")
	}
}

func TestAnswerContext_Errors(t *testing.T) {
	server := NewServer(&mockAnswerer{err: agent.ErrIndexUnavailable}, loadSnapshot(t), &mockSearcher{}, "test")

	if _, _, err := server.handleAnswerContext(context.Background(), nil, AnswerContextInput{Query: "  "}); err == nil {
		t.Fatalf("expected error for blank query")
	}
	_, _, err := server.handleAnswerContext(context.Background(), nil, AnswerContextInput{Query: "七七"})
	if !errors.Is(err, agent.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestSearchLore(t *testing.T) {
	searcher := &mockSearcher{
		results: []store.SearchResult{{ID: "e1", Name: "往生堂", EntityType: "location", Score: 1.0, Snippet: "璃月的殡葬机构"}},
	}
	server := NewServer(&mockAnswerer{}, loadSnapshot(t), searcher, "test")

	_, output, err := server.handleSearchLore(context.Background(), nil, SearchLoreInput{Query: "往生堂", Type: "location", Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Results) != 1 || output.Results[0].Name != "往生堂" {
		t.Fatalf("unexpected search output: %+v", output)
	}
	if searcher.lastQuery != "往生堂" || searcher.lastType != "location" || searcher.lastLimit != 5 {
		t.Fatalf("unexpected search params")
	}

	if _, _, err := server.handleSearchLore(context.Background(), nil, SearchLoreInput{}); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestGetEntity(t *testing.T) {
	server := NewServer(&mockAnswerer{}, loadSnapshot(t), &mockSearcher{}, "test")

	_, output, err := server.handleGetEntity(context.Background(), nil, GetEntityInput{ID: "c2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Name != "胡桃" || output.Kind != "character" {
		t.Fatalf("unexpected entity: %+v", output)
	}
	if len(output.Relationships) != 2 {
		t.Fatalf("expected 2 relationships, got %+v", output.Relationships)
	}
	if output.Relationships[0].TargetName != "七七" || output.Relationships[0].Attitude != "好奇" {
		t.Fatalf("unexpected relationship: %+v", output.Relationships[0])
	}
	if output.Rendered == "" {
		t.Fatalf("expected rendered text")
	}

	_, byName, err := server.handleGetEntity(context.Background(), nil, GetEntityInput{Name: "往生堂"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byName.ID != "e1" || byName.Kind != "event" {
		t.Fatalf("unexpected entity: %+v", byName)
	}
}

func TestGetEntity_NotFound(t *testing.T) {
	server := NewServer(&mockAnswerer{}, loadSnapshot(t), &mockSearcher{}, "test")

	if _, _, err := server.handleGetEntity(context.Background(), nil, GetEntityInput{Name: "Missing"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := server.handleGetEntity(context.Background(), nil, GetEntityInput{}); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestListTurns(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	answerer := &mockAnswerer{turns: []memory.Turn{{
		Index:           0,
		UserQuery:       "七七是谁",
		SubQueries:      []retrieval.SubQuery{{Text: "七七", Kind: graph.KindCharacter, Priority: retrieval.PriorityNamed}},
		RetrievedChunks: []retrieval.Chunk{{ID: "c7"}, {ID: "k1"}},
		Summary:         "asked about 七七",
		Timestamp:       ts,
	}}}
	server := NewServer(answerer, loadSnapshot(t), &mockSearcher{}, "test")

	_, output, err := server.handleListTurns(context.Background(), nil, ListTurnsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(output.Turns))
	}
	turn := output.Turns[0]
	if turn.Query != "七七是谁" || turn.Summary != "asked about 七七" || turn.Timestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if len(turn.ChunkIDs) != 2 || turn.ChunkIDs[1] != "k1" {
		t.Fatalf("unexpected chunk ids: %+v", turn.ChunkIDs)
	}
}

func TestSnapshotSearcher(t *testing.T) {
	snap := loadSnapshot(t)
	searcher := &SnapshotSearcher{Snapshot: snap, Index: index.BuildFromSnapshot(snap)}

	results, err := searcher.Search(context.Background(), "往生堂", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected results")
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Fatalf("results not sorted by score: %+v", results)
		}
	}

	filtered, err := searcher.Search(context.Background(), "往生堂", "location", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "e1" {
		t.Fatalf("unexpected filtered results: %+v", filtered)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := searcher.Search(ctx, "往生堂", "", 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
