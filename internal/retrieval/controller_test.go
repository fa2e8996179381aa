package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rolecraft/internal/graph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubRetriever struct {
	mu      sync.Mutex
	calls   []string
	kinds   []graph.Kind
	results map[string][]Chunk
	delays  map[string]time.Duration
	err     error
}

func (s *stubRetriever) Retrieve(ctx context.Context, q SubQuery) ([]Chunk, error) {
	s.mu.Lock()
	s.calls = append(s.calls, q.Text)
	s.kinds = append(s.kinds, q.Kind)
	delay := s.delays[q.Text]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results[q.Text], nil
}

func (s *stubRetriever) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type scriptedJudge struct {
	judgments []Judgment
	err       error
	requests  []JudgeRequest
}

func (j *scriptedJudge) Judge(ctx context.Context, req JudgeRequest) (Judgment, error) {
	j.requests = append(j.requests, req)
	if j.err != nil {
		return Judgment{}, j.err
	}
	if len(j.requests) <= len(j.judgments) {
		return j.judgments[len(j.requests)-1], nil
	}
	return Judgment{}, nil
}

type mapCache map[string][]Chunk

func (m mapCache) LookupCache(q SubQuery) ([]Chunk, bool) {
	chunks, ok := m[CacheKey(q)]
	return chunks, ok
}

func chunk(query, id string, score float64) Chunk {
	return Chunk{SourceQuery: query, ID: id, Kind: graph.KindCharacter, Text: id, Score: score}
}

func countState(states []State, want State) int {
	n := 0
	for _, s := range states {
		if s == want {
			n++
		}
	}
	return n
}

func TestControllerSatisfiedFirstIteration(t *testing.T) {
	retriever := &stubRetriever{results: map[string][]Chunk{"七七": {chunk("七七", "c7", 0.9)}}}
	judge := &scriptedJudge{judgments: []Judgment{{Sufficient: true}}}
	ctrl := NewController(retriever, judge, ControllerConfig{MaxIterations: 5, Concurrency: 2}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query:      "七七是谁？",
		SubQueries: []SubQuery{{Text: "七七", Kind: graph.KindCharacter, Priority: PriorityNamed}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateSatisfied, result.State)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, []State{StateDecomposed, StateRetrieving, StateReflecting, StateSatisfied}, result.Transitions)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "c7", result.Chunks[0].ID)
	require.Len(t, result.Answers, 1)
	assert.Equal(t, "七七", result.Answers[0].SubQuery.Text)
}

func TestControllerBoundedIteration(t *testing.T) {
	retriever := &stubRetriever{results: map[string][]Chunk{
		"q":  {chunk("q", "a", 0.4)},
		"f1": {chunk("f1", "b", 0.3)},
	}}
	judge := &scriptedJudge{}
	for i := 0; i < 10; i++ {
		judge.judgments = append(judge.judgments, Judgment{Missing: "more", FollowUps: []SubQuery{{Text: "f1", Kind: graph.KindEvent, Priority: PriorityRelational}}})
	}
	ctrl := NewController(retriever, judge, ControllerConfig{MaxIterations: 5, Concurrency: 4}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query:      "q",
		SubQueries: []SubQuery{{Text: "q", Kind: graph.KindCharacter, Priority: PriorityNamed}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, result.State)
	assert.Equal(t, 5, result.Iterations)
	assert.Equal(t, 5, countState(result.Transitions, StateRetrieving))
	assert.Equal(t, 5, countState(result.Transitions, StateReflecting))
	assert.Len(t, judge.requests, 5)
	assert.Equal(t, "more", result.Missing)
	assert.Len(t, result.Chunks, 2)
	// f1 repeated across iterations is answered from the in-cycle memo.
	assert.Equal(t, 2, retriever.callCount())
}

func TestControllerMergeDeterminism(t *testing.T) {
	subs := []SubQuery{
		{Text: "slow", Kind: graph.KindCharacter, Priority: PriorityNamed},
		{Text: "fast", Kind: graph.KindCharacter, Priority: PriorityNamed},
	}
	results := map[string][]Chunk{
		"slow": {chunk("slow", "x", 0.5), chunk("slow", "y", 0.7)},
		"fast": {chunk("fast", "x", 0.5), chunk("fast", "y", 0.2)},
	}

	run := func(delays map[string]time.Duration) []Chunk {
		retriever := &stubRetriever{results: results, delays: delays}
		ctrl := NewController(retriever, &scriptedJudge{judgments: []Judgment{{Sufficient: true}}}, ControllerConfig{MaxIterations: 1, Concurrency: 2}, nil)
		result, err := ctrl.Run(context.Background(), RunRequest{Query: "q", SubQueries: subs})
		require.NoError(t, err)
		return result.Chunks
	}

	a := run(map[string]time.Duration{"slow": 20 * time.Millisecond})
	b := run(map[string]time.Duration{"fast": 20 * time.Millisecond})
	assert.Equal(t, a, b)
	require.Len(t, a, 2)
	assert.Equal(t, "y", a[0].ID)
	assert.Equal(t, 0.7, a[0].Score)
	// equal scores keep the first merged sub-query's chunk
	assert.Equal(t, "slow", a[1].SourceQuery)
}

func TestControllerCacheHitSkipsRetrieval(t *testing.T) {
	retriever := &stubRetriever{}
	cache := mapCache{CacheKey(SubQuery{Text: "七七的性格特点", Kind: graph.KindCharacter}): {chunk("七七的性格特点", "c7", 0.8)}}
	ctrl := NewController(retriever, &scriptedJudge{judgments: []Judgment{{Sufficient: true}}}, ControllerConfig{MaxIterations: 5, Concurrency: 2}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query:      "她的性格怎么样？",
		SubQueries: []SubQuery{{Text: "七七的性格特点", Kind: graph.KindCharacter, Priority: PriorityNamed}},
		Cache:      cache,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, retriever.callCount())
	require.Len(t, result.CacheHits, 1)
	assert.Empty(t, result.Answers)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "c7", result.Chunks[0].ID)
}

func TestControllerCacheIsPartitionedByKind(t *testing.T) {
	retriever := &stubRetriever{results: map[string][]Chunk{"七七": {{SourceQuery: "七七", ID: "e2", Kind: graph.KindEvent, Text: "e2", Score: 0.6}}}}
	cache := mapCache{CacheKey(SubQuery{Text: "七七", Kind: graph.KindCharacter}): {chunk("七七", "c7", 0.8)}}
	ctrl := NewController(retriever, &scriptedJudge{judgments: []Judgment{{Sufficient: true}}}, ControllerConfig{MaxIterations: 1, Concurrency: 2}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query:      "七七",
		SubQueries: []SubQuery{{Text: "七七", Kind: graph.KindEvent, Priority: PriorityNamed}},
		Cache:      cache,
	})
	require.NoError(t, err)
	assert.Equal(t, []graph.Kind{graph.KindEvent}, retriever.kinds)
	assert.Empty(t, result.CacheHits)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "e2", result.Chunks[0].ID)
}

func TestControllerSameTextBothKinds(t *testing.T) {
	retriever := &stubRetriever{results: map[string][]Chunk{"往生堂在哪里": {chunk("往生堂在哪里", "k1", 0.2)}}}
	ctrl := NewController(retriever, &scriptedJudge{judgments: []Judgment{{Sufficient: true}}}, ControllerConfig{MaxIterations: 1, Concurrency: 2}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query: "往生堂在哪里",
		SubQueries: []SubQuery{
			{Text: "往生堂在哪里", Kind: graph.KindCharacter, Priority: PriorityBackground},
			{Text: "往生堂在哪里", Kind: graph.KindEvent, Priority: PriorityBackground},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, retriever.callCount())
	assert.ElementsMatch(t, []graph.Kind{graph.KindCharacter, graph.KindEvent}, retriever.kinds)
	require.Len(t, result.Answers, 2)
	assert.Equal(t, graph.KindCharacter, result.Answers[0].SubQuery.Kind)
	assert.Equal(t, graph.KindEvent, result.Answers[1].SubQuery.Kind)
}

func TestControllerStopsWithoutFollowUps(t *testing.T) {
	retriever := &stubRetriever{results: map[string][]Chunk{"q": {chunk("q", "a", 0.1)}}}
	judge := &scriptedJudge{judgments: []Judgment{{Missing: "nothing relevant"}}}
	ctrl := NewController(retriever, judge, ControllerConfig{MaxIterations: 5, Concurrency: 1}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query:      "q",
		SubQueries: []SubQuery{{Text: "q", Kind: graph.KindCharacter, Priority: PriorityNamed}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, result.State)
	assert.Equal(t, 1, result.Iterations)
	assert.Len(t, judge.requests, 1)
	assert.Equal(t, []State{StateDecomposed, StateRetrieving, StateReflecting, StateExhausted}, result.Transitions)
	assert.Equal(t, "nothing relevant", result.Missing)
	require.Len(t, result.Chunks, 1)
}

func TestControllerIdempotentRequery(t *testing.T) {
	retriever := &stubRetriever{results: map[string][]Chunk{"dup": {chunk("dup", "a", 0.42)}}}
	ctrl := NewController(retriever, &scriptedJudge{judgments: []Judgment{{Sufficient: true}}}, ControllerConfig{MaxIterations: 1, Concurrency: 4}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query: "dup",
		SubQueries: []SubQuery{
			{Text: "dup", Kind: graph.KindCharacter, Priority: PriorityNamed},
			{Text: "  DUP ", Kind: graph.KindCharacter, Priority: PriorityNamed},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, retriever.callCount())
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, 0.42, result.Chunks[0].Score)
	assert.Len(t, result.Issued, 2)
}

func TestControllerSeedAndPriorityOrder(t *testing.T) {
	retriever := &stubRetriever{}
	judge := &scriptedJudge{judgments: []Judgment{{Sufficient: true}}}
	ctrl := NewController(retriever, judge, ControllerConfig{MaxIterations: 1, Concurrency: 1}, nil)

	result, err := ctrl.Run(context.Background(), RunRequest{
		Query: "q",
		SubQueries: []SubQuery{
			{Text: "background", Kind: graph.KindEvent, Priority: PriorityBackground},
			{Text: "named", Kind: graph.KindCharacter, Priority: PriorityNamed},
			{Text: "relational", Kind: graph.KindEvent, Priority: PriorityRelational},
		},
		Seed: []Chunk{chunk("earlier", "seed", 0.1)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"named", "relational", "background"}, retriever.calls)
	require.Len(t, judge.requests, 1)
	require.Len(t, judge.requests[0].Chunks, 1)
	assert.Equal(t, "seed", judge.requests[0].Chunks[0].ID)
	assert.Equal(t, StateSatisfied, result.State)
}

func TestControllerErrors(t *testing.T) {
	subs := []SubQuery{{Text: "q", Kind: graph.KindCharacter, Priority: PriorityNamed}}

	t.Run("no sub-queries", func(t *testing.T) {
		ctrl := NewController(&stubRetriever{}, &scriptedJudge{}, ControllerConfig{}, nil)
		_, err := ctrl.Run(context.Background(), RunRequest{Query: "q"})
		assert.ErrorIs(t, err, ErrNoSubQueries)
	})

	t.Run("judge failure is fatal", func(t *testing.T) {
		boom := errors.New("oracle down")
		ctrl := NewController(&stubRetriever{}, &scriptedJudge{err: boom}, ControllerConfig{MaxIterations: 3}, nil)
		_, err := ctrl.Run(context.Background(), RunRequest{Query: "q", SubQueries: subs})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("retriever failure is fatal", func(t *testing.T) {
		ctrl := NewController(&stubRetriever{err: ErrNoIndex}, &scriptedJudge{}, ControllerConfig{MaxIterations: 3}, nil)
		_, err := ctrl.Run(context.Background(), RunRequest{Query: "q", SubQueries: subs})
		assert.ErrorIs(t, err, ErrNoIndex)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ctrl := NewController(&stubRetriever{}, &scriptedJudge{}, ControllerConfig{MaxIterations: 3}, nil)
		_, err := ctrl.Run(ctx, RunRequest{Query: "q", SubQueries: subs})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
