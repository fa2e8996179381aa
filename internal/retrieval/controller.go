package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"rolecraft/internal/metrics"
)

type State string

const (
	StateDecomposed State = "DECOMPOSED"
	StateRetrieving State = "RETRIEVING"
	StateReflecting State = "REFLECTING"
	StateSatisfied  State = "SATISFIED"
	StateExhausted  State = "EXHAUSTED"
)

var ErrNoSubQueries = errors.New("no sub-queries to run")

type ControllerConfig struct {
	MaxIterations int
	Concurrency   int
}

type Controller struct {
	retriever Retriever
	judge     Judge
	cfg       ControllerConfig
	logger    *log.Logger
}

func NewController(retriever Retriever, judge Judge, cfg ControllerConfig, logger *log.Logger) *Controller {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Controller{retriever: retriever, judge: judge, cfg: cfg, logger: logger}
}

type RunRequest struct {
	Query      string
	SubQueries []SubQuery
	// Seed chunks are merged before the first retrieval, e.g. context from
	// turns the query calls back to.
	Seed  []Chunk
	Cache Cache
}

// Answer is what one fresh sub-query returned from the index.
type Answer struct {
	SubQuery SubQuery
	Chunks   []Chunk
}

type RunResult struct {
	Chunks      []Chunk
	State       State
	Iterations  int
	Transitions []State
	// Issued lists every sub-query in issue order, cache hits included.
	Issued    []SubQuery
	CacheHits []SubQuery
	Answers   []Answer
	Missing   string
}

// Run drives DECOMPOSED -> RETRIEVING -> REFLECTING until the judge is
// satisfied or MaxIterations retrieval phases have run. Hitting the bound, or
// an insufficient judgment with no follow-ups, is not an error: the
// accumulated chunks are returned with StateExhausted.
func (c *Controller) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if len(req.SubQueries) == 0 {
		return nil, ErrNoSubQueries
	}

	result := &RunResult{State: StateDecomposed, Transitions: []State{StateDecomposed}}
	set := NewChunkSet()
	set.Add(req.Seed...)

	memo := make(map[string][]Chunk)
	pending := SortSubQueries(req.SubQueries)

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.enter(result, StateRetrieving, iteration)
		result.Iterations = iteration

		if err := c.retrieve(ctx, pending, req.Cache, memo, set, result); err != nil {
			return nil, err
		}

		c.enter(result, StateReflecting, iteration)
		judgment, err := c.judge.Judge(ctx, JudgeRequest{
			Query:     req.Query,
			Iteration: iteration,
			Chunks:    set.Chunks(),
			Issued:    append([]SubQuery(nil), result.Issued...),
		})
		if err != nil {
			return nil, fmt.Errorf("judging sufficiency: %w", err)
		}
		result.Missing = judgment.Missing

		if judgment.Sufficient {
			c.enter(result, StateSatisfied, iteration)
			break
		}
		if iteration >= c.cfg.MaxIterations {
			c.enter(result, StateExhausted, iteration)
			break
		}

		if len(judgment.FollowUps) == 0 {
			c.logger.Debug("judge proposed no follow-ups", "iteration", iteration, "missing", judgment.Missing)
			c.enter(result, StateExhausted, iteration)
			break
		}

		pending = SortSubQueries(judgment.FollowUps)
		c.logger.Debug("retrieval insufficient", "iteration", iteration, "missing", judgment.Missing, "follow_ups", len(pending))
	}

	result.Chunks = set.Chunks()
	metrics.Iterations.Observe(float64(result.Iterations))
	return result, nil
}

func (c *Controller) enter(result *RunResult, state State, iteration int) {
	result.State = state
	result.Transitions = append(result.Transitions, state)
	c.logger.Debug("controller state", "state", state, "iteration", iteration)
}

// retrieve issues every pending sub-query not answerable from the cache or
// the in-cycle memo, then merges all answers in pending order so the merged
// set does not depend on completion order.
func (c *Controller) retrieve(ctx context.Context, pending []SubQuery, cache Cache, memo map[string][]Chunk, set *ChunkSet, result *RunResult) error {
	type slot struct {
		key    string
		fresh  bool
		chunks []Chunk
	}

	slots := make([]slot, len(pending))
	inFlight := make(map[string]int)
	var toFetch []int

	for i, q := range pending {
		key := CacheKey(q)
		slots[i].key = key
		result.Issued = append(result.Issued, q)

		if chunks, ok := memo[key]; ok {
			slots[i].chunks = chunks
			continue
		}
		if _, ok := inFlight[key]; ok {
			continue
		}
		if cache != nil {
			if chunks, ok := cache.LookupCache(q); ok {
				metrics.CacheLookups.WithLabelValues("hit").Inc()
				c.logger.Debug("cache hit", "subquery", q.Text, "kind", q.Kind)
				slots[i].chunks = chunks
				memo[key] = chunks
				result.CacheHits = append(result.CacheHits, q)
				continue
			}
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
		inFlight[key] = i
		slots[i].fresh = true
		toFetch = append(toFetch, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, i := range toFetch {
		g.Go(func() error {
			chunks, err := c.retriever.Retrieve(gctx, pending[i])
			if err != nil {
				return fmt.Errorf("retrieving %q: %w", pending[i].Text, err)
			}
			slots[i].chunks = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, s := range slots {
		if s.fresh {
			memo[s.key] = s.chunks
			result.Answers = append(result.Answers, Answer{SubQuery: pending[i], Chunks: s.chunks})
		}
	}
	for _, s := range slots {
		chunks := s.chunks
		if chunks == nil {
			chunks = memo[s.key]
		}
		set.Add(chunks...)
	}
	return nil
}
