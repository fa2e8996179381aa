package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolecraft/internal/graph"
	"rolecraft/internal/retrieval"
)

type stubDetector struct {
	indices     []int
	err         error
	lastQuery   string
	lastHistory []Turn
}

func (s *stubDetector) DetectCallback(ctx context.Context, query string, history []Turn) ([]int, error) {
	s.lastQuery = query
	s.lastHistory = history
	return s.indices, s.err
}

type stubSummarizer struct {
	calls int
	err   error
}

func (s *stubSummarizer) Summarize(ctx context.Context, turn Turn) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "asked: " + turn.UserQuery, nil
}

func characterQuery(text string) retrieval.SubQuery {
	return retrieval.SubQuery{Text: text, Kind: graph.KindCharacter, Priority: retrieval.PriorityNamed}
}

func turnFor(subquery string, id string) Turn {
	q := characterQuery(subquery)
	chunks := []retrieval.Chunk{{SourceQuery: subquery, ID: id, Kind: graph.KindCharacter, Text: id, Score: 0.5}}
	return Turn{
		UserQuery:       "question about " + subquery,
		SubQueries:      []retrieval.SubQuery{q},
		RetrievedChunks: chunks,
		Retrievals:      []Retrieval{{SubQuery: q, Chunks: chunks}},
	}
}

func recordN(t *testing.T, m *Memory, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := m.RecordTurn(context.Background(), turnFor(fmt.Sprintf("sub %d", i), fmt.Sprintf("id%d", i)))
		require.NoError(t, err)
	}
}

func TestRecordTurnFIFO(t *testing.T) {
	m := New(Options{Limit: 5})
	recordN(t, m, 7)

	turns := m.Turns()
	require.Len(t, turns, 5)
	for i, turn := range turns {
		assert.Equal(t, i+2, turn.Index)
	}
	_, ok := m.Turn(0)
	assert.False(t, ok)
	_, ok = m.Turn(6)
	assert.True(t, ok)
	assert.Equal(t, 7, m.NextIndex())

	_, ok = m.LookupCache(characterQuery("sub 0"))
	assert.False(t, ok)
	_, ok = m.LookupCache(characterQuery("sub 1"))
	assert.False(t, ok)
	for i := 2; i < 7; i++ {
		_, ok := m.LookupCache(characterQuery(fmt.Sprintf("sub %d", i)))
		assert.True(t, ok, "sub %d", i)
	}
	assert.Equal(t, 5, m.CacheSize())
}

func TestCacheConsistency(t *testing.T) {
	m := New(Options{Limit: 2})
	recorded, err := m.RecordTurn(context.Background(), turnFor("七七的性格特点", "c7"))
	require.NoError(t, err)
	assert.Equal(t, 0, recorded.Index)

	chunks, ok := m.LookupCache(characterQuery("  七七的性格特点 "))
	require.True(t, ok)
	assert.Equal(t, recorded.Retrievals[0].Chunks, chunks)

	chunks[0].ID = "mutated"
	again, _ := m.LookupCache(characterQuery("七七的性格特点"))
	assert.Equal(t, "c7", again[0].ID)

	recordN(t, m, 2)
	_, ok = m.LookupCache(characterQuery("七七的性格特点"))
	assert.False(t, ok)
}

func TestCacheKeyedByKind(t *testing.T) {
	m := New(Options{})
	_, err := m.RecordTurn(context.Background(), turnFor("七七", "c7"))
	require.NoError(t, err)

	_, ok := m.LookupCache(retrieval.SubQuery{Text: "七七", Kind: graph.KindEvent, Priority: retrieval.PriorityNamed})
	assert.False(t, ok)
	chunks, ok := m.LookupCache(characterQuery("七七"))
	require.True(t, ok)
	assert.Equal(t, "c7", chunks[0].ID)
}

func TestCacheOwnershipMovesToNewerTurn(t *testing.T) {
	m := New(Options{Limit: 2})
	_, err := m.RecordTurn(context.Background(), turnFor("shared", "old"))
	require.NoError(t, err)
	_, err = m.RecordTurn(context.Background(), turnFor("shared", "new"))
	require.NoError(t, err)
	_, err = m.RecordTurn(context.Background(), turnFor("other", "x"))
	require.NoError(t, err)

	// turn 0 evicted; turn 1 still owns "shared"
	chunks, ok := m.LookupCache(characterQuery("shared"))
	require.True(t, ok)
	assert.Equal(t, "new", chunks[0].ID)
}

func TestDetectCallback(t *testing.T) {
	t.Run("filters to retained window", func(t *testing.T) {
		detector := &stubDetector{indices: []int{6, 0, 3, 3, 42, -1}}
		m := New(Options{Limit: 5, Detector: detector})
		recordN(t, m, 7)

		got, err := m.DetectCallback(context.Background(), "她呢？")
		require.NoError(t, err)
		assert.Equal(t, []int{3, 6}, got)
		assert.Equal(t, "她呢？", detector.lastQuery)
		assert.Len(t, detector.lastHistory, 5)
	})

	t.Run("empty history skips detector", func(t *testing.T) {
		detector := &stubDetector{indices: []int{0}}
		m := New(Options{Detector: detector})
		got, err := m.DetectCallback(context.Background(), "q")
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Empty(t, detector.lastQuery)
	})

	t.Run("detector failure is non-fatal", func(t *testing.T) {
		m := New(Options{Detector: &stubDetector{err: errors.New("oracle timeout")}})
		recordN(t, m, 1)
		got, err := m.DetectCallback(context.Background(), "q")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("cancellation is reported", func(t *testing.T) {
		m := New(Options{Detector: &stubDetector{err: context.Canceled}})
		recordN(t, m, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := m.DetectCallback(ctx, "q")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRecordTurnSummary(t *testing.T) {
	t.Run("summarized once", func(t *testing.T) {
		summarizer := &stubSummarizer{}
		m := New(Options{Summarizer: summarizer})
		turn, err := m.RecordTurn(context.Background(), turnFor("q", "a"))
		require.NoError(t, err)
		assert.Equal(t, 1, summarizer.calls)
		assert.Equal(t, "asked: question about q", turn.Summary)
		assert.False(t, turn.SummaryOmitted)
		assert.False(t, turn.Timestamp.IsZero())
	})

	t.Run("summary failure still records", func(t *testing.T) {
		m := New(Options{Summarizer: &stubSummarizer{err: errors.New("timeout")}})
		turn, err := m.RecordTurn(context.Background(), turnFor("q", "a"))
		require.NoError(t, err)
		assert.True(t, turn.SummaryOmitted)
		assert.Len(t, m.Turns(), 1)
	})

	t.Run("cancelled context records nothing", func(t *testing.T) {
		m := New(Options{Summarizer: &stubSummarizer{}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := m.RecordTurn(ctx, turnFor("q", "a"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, m.Turns())
		assert.Equal(t, 0, m.NextIndex())
		_, ok := m.LookupCache(characterQuery("q"))
		assert.False(t, ok)
	})
}

func TestReset(t *testing.T) {
	m := New(Options{})
	recordN(t, m, 3)
	m.Reset()
	assert.Empty(t, m.Turns())
	assert.Equal(t, 0, m.NextIndex())
	assert.Equal(t, 0, m.CacheSize())
}
