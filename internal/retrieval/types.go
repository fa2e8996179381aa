package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"rolecraft/internal/graph"
	"rolecraft/internal/index"
)

type Priority int

const (
	PriorityBackground Priority = 1
	PriorityRelational Priority = 2
	PriorityNamed      Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityBackground && p <= PriorityNamed
}

type SubQuery struct {
	Text     string     `json:"text"`
	Kind     graph.Kind `json:"type"`
	Priority Priority   `json:"priority"`
}

func (q SubQuery) String() string {
	return fmt.Sprintf("%s[%s/%d]", q.Text, q.Kind, q.Priority)
}

type Chunk struct {
	SourceQuery string            `json:"source_query"`
	ID          string            `json:"id"`
	Kind        graph.Kind        `json:"kind"`
	Granularity index.Granularity `json:"granularity"`
	Text        string            `json:"text"`
	Score       float64           `json:"score"`
}

// Normalize folds sub-query text for comparison: NFKC, case folded, with
// runs of whitespace collapsed to one space.
func Normalize(text string) string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

// CacheKey identifies a sub-query for caching. The same text under another
// kind searches a different partition, so the kind is part of the key.
func CacheKey(q SubQuery) string {
	return q.Kind.String() + ":" + Normalize(q.Text)
}

// SortSubQueries orders by priority, highest first, keeping the
// decomposition order for equal priorities.
func SortSubQueries(subs []SubQuery) []SubQuery {
	sorted := append([]SubQuery(nil), subs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

// ChunkSet accumulates chunks deduplicated by id. A later chunk replaces an
// earlier one only with a strictly higher score, so the result depends on
// merge order alone.
type ChunkSet struct {
	byID map[string]Chunk
}

func NewChunkSet() *ChunkSet {
	return &ChunkSet{byID: make(map[string]Chunk)}
}

func (s *ChunkSet) Add(chunks ...Chunk) {
	for _, c := range chunks {
		existing, ok := s.byID[c.ID]
		if !ok || c.Score > existing.Score {
			s.byID[c.ID] = c
		}
	}
}

func (s *ChunkSet) Len() int {
	return len(s.byID)
}

func (s *ChunkSet) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *ChunkSet) Get(id string) (Chunk, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// Chunks returns the set ordered by score descending, then id ascending.
func (s *ChunkSet) Chunks() []Chunk {
	out := make([]Chunk, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SchemaHint gives decomposers the names they may route on.
type SchemaHint struct {
	Characters []string
	Others     []string
}

type DecomposeRequest struct {
	Query string
	Hint  SchemaHint
	// Context carries digests of turns the query refers back to.
	Context []string
}

type Decomposer interface {
	Decompose(ctx context.Context, req DecomposeRequest) ([]SubQuery, error)
}

type JudgeRequest struct {
	Query     string
	Iteration int
	Chunks    []Chunk
	Issued    []SubQuery
}

type Judgment struct {
	Sufficient bool
	Missing    string
	FollowUps  []SubQuery
}

type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (Judgment, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, q SubQuery) ([]Chunk, error)
}

// Cache is consulted before any sub-query reaches the retriever.
type Cache interface {
	LookupCache(q SubQuery) ([]Chunk, bool)
}
