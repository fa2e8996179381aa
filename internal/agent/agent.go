package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"rolecraft/internal/config"
	"rolecraft/internal/graph"
	"rolecraft/internal/index"
	"rolecraft/internal/memory"
	"rolecraft/internal/metrics"
	"rolecraft/internal/oracle"
	"rolecraft/internal/policy"
	"rolecraft/internal/retrieval"
)

var (
	ErrIndexUnavailable = errors.New("lexical index unavailable")
	ErrEmptyQuery       = errors.New("query is empty")
)

type Config struct {
	MaxIterations   int
	HistoryLimit    int
	OracleTimeout   time.Duration
	MaxRetries      int
	TopKEntities    int
	TopKCommunities int
	Concurrency     int
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:   config.DefaultMaxIterations,
		HistoryLimit:    config.DefaultHistoryLimit,
		OracleTimeout:   config.DefaultOracleTimeout,
		MaxRetries:      config.DefaultMaxRetries,
		TopKEntities:    config.DefaultTopKEntities,
		TopKCommunities: config.DefaultTopKCommunities,
		Concurrency:     config.DefaultConcurrency,
	}
}

func ConfigFrom(a config.AgentConfig) Config {
	return Config{
		MaxIterations:   a.MaxIterations,
		HistoryLimit:    a.HistoryLimit,
		OracleTimeout:   a.OracleTimeout,
		MaxRetries:      a.Retries(),
		TopKEntities:    a.TopKEntities,
		TopKCommunities: a.TopKCommunities,
		Concurrency:     a.Concurrency,
	}
}

// Deps wires the agent. Snapshot and Index are required unless Retriever is
// given. With a nil Oracle the heuristic policies are used; any explicitly
// set policy wins over both.
type Deps struct {
	Snapshot *graph.Snapshot
	Index    *index.Index
	Schema   *config.Schema
	Oracle   oracle.Oracle

	Retriever  retrieval.Retriever
	Decomposer retrieval.Decomposer
	Judge      retrieval.Judge
	Detector   memory.CallbackDetector
	Summarizer memory.Summarizer
	Persister  memory.Persister

	Logger *log.Logger
}

type ContextBundle struct {
	CycleID          string               `json:"cycle_id"`
	Query            string               `json:"query"`
	Chunks           []retrieval.Chunk    `json:"chunks"`
	SubQueries       []retrieval.SubQuery `json:"sub_queries"`
	CallbackTurns    []int                `json:"callback_turns"`
	CachedSubQueries []retrieval.SubQuery `json:"cached_sub_queries"`
	State            retrieval.State      `json:"state"`
	Iterations       int                  `json:"iterations"`
	TurnIndex        int                  `json:"turn_index"`
	Missing          string               `json:"missing,omitempty"`
}

type Agent struct {
	mu sync.Mutex

	cfg        Config
	snapshot   *graph.Snapshot
	index      *index.Index
	hint       retrieval.SchemaHint
	ready      bool
	decomposer retrieval.Decomposer
	controller *retrieval.Controller
	memory     *memory.Memory
	persister  memory.Persister
	logger     *log.Logger
}

func New(ctx context.Context, cfg Config, deps Deps) (*Agent, error) {
	cfg = withDefaults(cfg)
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	schema := deps.Schema
	if schema == nil {
		schema = config.DefaultSchema()
	}

	retriever := deps.Retriever
	ready := retriever != nil
	if retriever == nil {
		retriever = &retrieval.IndexRetriever{
			Index:           deps.Index,
			Snapshot:        deps.Snapshot,
			TopKEntities:    cfg.TopKEntities,
			TopKCommunities: cfg.TopKCommunities,
		}
		ready = deps.Index != nil && !deps.Index.Empty()
	}

	hint := schemaHint(deps.Snapshot)
	decomposer, judge, detector, summarizer := buildPolicies(cfg, deps, schema, hint, logger)

	a := &Agent{
		cfg:        cfg,
		snapshot:   deps.Snapshot,
		index:      deps.Index,
		hint:       hint,
		ready:      ready,
		decomposer: decomposer,
		controller: retrieval.NewController(retriever, judge, retrieval.ControllerConfig{
			MaxIterations: cfg.MaxIterations,
			Concurrency:   cfg.Concurrency,
		}, logger),
		memory: memory.New(memory.Options{
			Limit:      cfg.HistoryLimit,
			Detector:   detector,
			Summarizer: summarizer,
			Logger:     logger,
		}),
		persister: deps.Persister,
		logger:    logger,
	}

	if err := a.restore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = d.HistoryLimit
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.TopKEntities == 0 {
		cfg.TopKEntities = d.TopKEntities
	}
	if cfg.TopKCommunities == 0 {
		cfg.TopKCommunities = d.TopKCommunities
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = d.Concurrency
	}
	return cfg
}

func buildPolicies(cfg Config, deps Deps, schema *config.Schema, hint retrieval.SchemaHint, logger *log.Logger) (retrieval.Decomposer, retrieval.Judge, memory.CallbackDetector, memory.Summarizer) {
	var (
		decomposer retrieval.Decomposer
		judge      retrieval.Judge
		detector   memory.CallbackDetector
		summarizer memory.Summarizer
	)
	if deps.Oracle != nil {
		caller := oracle.NewCaller(deps.Oracle, oracle.CallerConfig{
			Timeout:    cfg.OracleTimeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
		decomposer = &policy.OracleDecomposer{Caller: caller}
		judge = &policy.OracleJudge{Caller: caller}
		detector = &policy.OracleCallbackDetector{Caller: caller}
		summarizer = &policy.OracleSummarizer{Caller: caller}
	} else {
		names := append(append([]string(nil), hint.Characters...), hint.Others...)
		decomposer = &policy.HeuristicDecomposer{Schema: schema}
		judge = &policy.LexicalJudge{}
		detector = &policy.NameCallbackDetector{Schema: schema, Names: names}
		summarizer = &policy.TemplateSummarizer{}
	}

	if deps.Decomposer != nil {
		decomposer = deps.Decomposer
	}
	if deps.Judge != nil {
		judge = deps.Judge
	}
	if deps.Detector != nil {
		detector = deps.Detector
	}
	if deps.Summarizer != nil {
		summarizer = deps.Summarizer
	}
	return decomposer, judge, detector, summarizer
}

func schemaHint(s *graph.Snapshot) retrieval.SchemaHint {
	var hint retrieval.SchemaHint
	for _, ref := range s.Names() {
		if ref.Kind == graph.KindCharacter {
			hint.Characters = append(hint.Characters, ref.Name)
		} else {
			hint.Others = append(hint.Others, ref.Name)
		}
	}
	return hint
}

func (a *Agent) restore(ctx context.Context) error {
	if a.persister == nil {
		return nil
	}
	state, err := a.persister.LoadMemory(ctx)
	if err != nil {
		if errors.Is(err, memory.ErrMemoryCorrupt) {
			a.logger.Warn("discarding unreadable conversation memory", "err", err)
			return nil
		}
		return fmt.Errorf("loading conversation memory: %w", err)
	}
	report := a.memory.Restore(state)
	if report.Dropped > 0 {
		a.logger.Warn("dropped malformed turns from conversation memory", "loaded", report.Loaded, "dropped", report.Dropped)
	} else {
		a.logger.Debug("restored conversation memory", "turns", report.Loaded)
	}
	return nil
}

// AnswerContext runs one retrieval cycle for query and records it as a
// conversation turn. Cycles on one agent never overlap.
func (a *Agent) AnswerContext(ctx context.Context, query string) (*ContextBundle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if !a.ready {
		return nil, ErrIndexUnavailable
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	cycleID := uuid.NewString()
	logger := a.logger.With("cycle", cycleID)

	bundle, err := a.runCycle(ctx, logger, cycleID, query)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Cycles.WithLabelValues("failed").Inc()
		logger.Warn("answer cycle failed", "err", err)
		return nil, err
	}
	metrics.Cycles.WithLabelValues(strings.ToLower(string(bundle.State))).Inc()
	logger.Info("answer cycle complete",
		"state", bundle.State,
		"iterations", bundle.Iterations,
		"chunks", len(bundle.Chunks),
		"cached", len(bundle.CachedSubQueries),
		"turn", bundle.TurnIndex,
	)
	return bundle, nil
}

func (a *Agent) runCycle(ctx context.Context, logger *log.Logger, cycleID, query string) (*ContextBundle, error) {
	callbacks, err := a.memory.DetectCallback(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("detecting callbacks: %w", err)
	}
	seed, digests := a.callbackContext(callbacks)
	if len(callbacks) > 0 {
		logger.Debug("query refers back", "turns", callbacks, "seeded", len(seed))
	}

	subs, err := a.decomposer.Decompose(ctx, retrieval.DecomposeRequest{
		Query:   query,
		Hint:    a.hint,
		Context: digests,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposing query: %w", err)
	}
	logger.Debug("decomposed query", "subqueries", len(subs))

	result, err := a.controller.Run(ctx, retrieval.RunRequest{
		Query:      query,
		SubQueries: subs,
		Seed:       seed,
		Cache:      a.memory,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	retrievals := make([]memory.Retrieval, 0, len(result.Answers))
	for _, ans := range result.Answers {
		retrievals = append(retrievals, memory.Retrieval{SubQuery: ans.SubQuery, Chunks: ans.Chunks})
	}
	turn, err := a.memory.RecordTurn(ctx, memory.Turn{
		UserQuery:       query,
		SubQueries:      result.Issued,
		RetrievedChunks: result.Chunks,
		Retrievals:      retrievals,
		CallbackTurns:   callbacks,
	})
	if err != nil {
		return nil, fmt.Errorf("recording turn: %w", err)
	}
	a.persist(ctx, logger)

	return &ContextBundle{
		CycleID:          cycleID,
		Query:            query,
		Chunks:           result.Chunks,
		SubQueries:       result.Issued,
		CallbackTurns:    callbacks,
		CachedSubQueries: result.CacheHits,
		State:            result.State,
		Iterations:       result.Iterations,
		TurnIndex:        turn.Index,
		Missing:          result.Missing,
	}, nil
}

// callbackContext collects the chunks and digests of the referenced turns.
func (a *Agent) callbackContext(indices []int) ([]retrieval.Chunk, []string) {
	var seed []retrieval.Chunk
	var digests []string
	for _, idx := range indices {
		turn, ok := a.memory.Turn(idx)
		if !ok {
			continue
		}
		seed = append(seed, turn.RetrievedChunks...)
		digest := turn.Summary
		if digest == "" {
			digest = "Q: " + turn.UserQuery
		}
		digests = append(digests, digest)
	}
	return seed, digests
}

func (a *Agent) persist(ctx context.Context, logger *log.Logger) {
	if a.persister == nil {
		return
	}
	if err := a.persister.SaveMemory(ctx, a.memory.State()); err != nil {
		logger.Warn("persisting conversation memory failed", "err", err)
	}
}

func (a *Agent) Turns() []memory.Turn {
	return a.memory.Turns()
}

func (a *Agent) Turn(index int) (memory.Turn, bool) {
	return a.memory.Turn(index)
}

// ResetMemory clears the conversation and persists the empty state.
func (a *Agent) ResetMemory(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory.Reset()
	if a.persister == nil {
		return nil
	}
	if err := a.persister.SaveMemory(ctx, a.memory.State()); err != nil {
		return fmt.Errorf("persisting conversation memory: %w", err)
	}
	return nil
}

func (a *Agent) Snapshot() *graph.Snapshot {
	return a.snapshot
}

func (a *Agent) Index() *index.Index {
	return a.index
}

func (a *Agent) Config() Config {
	return a.cfg
}
