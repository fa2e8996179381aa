package memory

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"rolecraft/internal/metrics"
	"rolecraft/internal/retrieval"
)

const DefaultLimit = 5

type Turn struct {
	Index           int                  `json:"turn_index"`
	UserQuery       string               `json:"user_query"`
	SubQueries      []retrieval.SubQuery `json:"sub_queries"`
	RetrievedChunks []retrieval.Chunk    `json:"retrieved_chunks"`
	Retrievals      []Retrieval          `json:"retrievals,omitempty"`
	CallbackTurns   []int                `json:"callback_turns,omitempty"`
	Summary         string               `json:"summary,omitempty"`
	SummaryOmitted  bool                 `json:"summary_omitted,omitempty"`
	Timestamp       time.Time            `json:"timestamp"`
}

// Retrieval is one sub-query answered from the index during a turn. These
// are the turn's cache entries.
type Retrieval struct {
	SubQuery retrieval.SubQuery `json:"sub_query"`
	Chunks   []retrieval.Chunk  `json:"chunks"`
}

type CallbackDetector interface {
	DetectCallback(ctx context.Context, query string, history []Turn) ([]int, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, turn Turn) (string, error)
}

type Options struct {
	Limit      int
	Detector   CallbackDetector
	Summarizer Summarizer
	Logger     *log.Logger
	Now        func() time.Time
}

type cacheEntry struct {
	turn   int
	chunks []retrieval.Chunk
}

// Memory is a bounded FIFO of completed turns plus the sub-query cache those
// turns own. Evicting a turn drops its cache entries under the same lock.
type Memory struct {
	mu        sync.RWMutex
	limit     int
	turns     []Turn
	nextIndex int
	cache     map[string]cacheEntry

	detector   CallbackDetector
	summarizer Summarizer
	logger     *log.Logger
	now        func() time.Time
}

var _ retrieval.Cache = (*Memory)(nil)

func New(opts Options) *Memory {
	if opts.Limit < 1 {
		opts.Limit = DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{
		limit:      opts.Limit,
		cache:      make(map[string]cacheEntry),
		detector:   opts.Detector,
		summarizer: opts.Summarizer,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

func (m *Memory) Limit() int {
	return m.limit
}

// DetectCallback returns the retained turns query refers back to, ascending.
// A failing detector yields no callbacks; only cancellation is reported.
func (m *Memory) DetectCallback(ctx context.Context, query string) ([]int, error) {
	history := m.Turns()
	if m.detector == nil || len(history) == 0 {
		return []int{}, nil
	}

	indices, err := m.detector.DetectCallback(ctx, query, history)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.logger.Warn("callback detection failed", "err", err)
		return []int{}, nil
	}

	retained := make(map[int]struct{}, len(history))
	for _, t := range history {
		retained[t.Index] = struct{}{}
	}
	seen := make(map[int]struct{})
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		if _, ok := retained[idx]; !ok {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

func (m *Memory) LookupCache(q retrieval.SubQuery) ([]retrieval.Chunk, bool) {
	key := retrieval.CacheKey(q)
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	return append([]retrieval.Chunk(nil), entry.chunks...), true
}

// Summarize fills in the turn digest. A summarizer failure marks the summary
// omitted instead of failing the turn.
func (m *Memory) Summarize(ctx context.Context, turn Turn) Turn {
	if m.summarizer == nil {
		turn.Summary = ""
		turn.SummaryOmitted = true
		return turn
	}
	summary, err := m.summarizer.Summarize(ctx, turn)
	if err != nil {
		m.logger.Warn("summarizing turn failed", "query", turn.UserQuery, "err", err)
		turn.Summary = ""
		turn.SummaryOmitted = true
		return turn
	}
	turn.Summary = summary
	turn.SummaryOmitted = false
	return turn
}

// RecordTurn summarizes turn once, assigns the next index and appends it,
// evicting the oldest turns beyond the limit. Nothing is recorded if ctx is
// done before the append.
func (m *Memory) RecordTurn(ctx context.Context, turn Turn) (Turn, error) {
	turn = m.Summarize(ctx, turn)
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	turn.Index = m.nextIndex
	m.nextIndex++
	m.appendLocked(turn)
	return turn, nil
}

func (m *Memory) appendLocked(turn Turn) {
	m.turns = append(m.turns, turn)
	for _, r := range turn.Retrievals {
		m.cache[retrieval.CacheKey(r.SubQuery)] = cacheEntry{turn: turn.Index, chunks: r.Chunks}
	}
	for len(m.turns) > m.limit {
		evicted := m.turns[0]
		m.turns = m.turns[1:]
		for _, r := range evicted.Retrievals {
			key := retrieval.CacheKey(r.SubQuery)
			if entry, ok := m.cache[key]; ok && entry.turn == evicted.Index {
				delete(m.cache, key)
			}
		}
		metrics.EvictedTurns.Inc()
		m.logger.Debug("evicted turn", "turn", evicted.Index)
	}
	metrics.RetainedTurns.Set(float64(len(m.turns)))
}

func (m *Memory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.turns...)
}

func (m *Memory) Turn(index int) (Turn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.turns {
		if t.Index == index {
			return t, true
		}
	}
	return Turn{}, false
}

func (m *Memory) NextIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextIndex
}

func (m *Memory) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.nextIndex = 0
	m.cache = make(map[string]cacheEntry)
	metrics.RetainedTurns.Set(0)
}
