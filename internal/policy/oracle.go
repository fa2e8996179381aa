package policy

import (
	"context"
	"fmt"
	"strings"

	"rolecraft/internal/graph"
	"rolecraft/internal/memory"
	"rolecraft/internal/oracle"
	"rolecraft/internal/retrieval"
)

const DefaultMaxFollowUps = 3

type subQueryResponse struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Priority int    `json:"priority"`
}

func (r subQueryResponse) subQuery() (retrieval.SubQuery, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return retrieval.SubQuery{}, fmt.Errorf("sub-query text is empty")
	}
	kind, err := graph.ParseKind(r.Type)
	if err != nil {
		return retrieval.SubQuery{}, err
	}
	priority := retrieval.Priority(r.Priority)
	if !priority.Valid() {
		return retrieval.SubQuery{}, fmt.Errorf("sub-query %q: priority %d out of range 1-3", text, r.Priority)
	}
	return retrieval.SubQuery{Text: text, Kind: kind, Priority: priority}, nil
}

func convertSubQueries(items []subQueryResponse) ([]retrieval.SubQuery, error) {
	out := make([]retrieval.SubQuery, 0, len(items))
	for _, item := range items {
		q, err := item.subQuery()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

type decomposition struct {
	SubQueries []subQueryResponse `json:"subqueries"`
}

func (d *decomposition) Validate() error {
	if len(d.SubQueries) == 0 {
		return fmt.Errorf("no sub-queries")
	}
	_, err := convertSubQueries(d.SubQueries)
	return err
}

type sufficiency struct {
	IsSufficient  bool               `json:"is_sufficient"`
	MissingInfo   string             `json:"missing_info"`
	NewSubQueries []subQueryResponse `json:"new_subqueries"`
}

func (s *sufficiency) Validate() error {
	_, err := convertSubQueries(s.NewSubQueries)
	return err
}

type callbackDecision struct {
	NeedsCallback      bool   `json:"needs_callback"`
	RelatedTurnIndices []int  `json:"related_turn_indices"`
	Reason             string `json:"reason"`
}

type turnSummary struct {
	Summary string `json:"summary"`
}

func (s *turnSummary) Validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return fmt.Errorf("summary is empty")
	}
	return nil
}

// OracleDecomposer asks the oracle to split a query into typed sub-queries.
type OracleDecomposer struct {
	Caller *oracle.Caller
}

var _ retrieval.Decomposer = (*OracleDecomposer)(nil)

func (d *OracleDecomposer) Decompose(ctx context.Context, req retrieval.DecomposeRequest) ([]retrieval.SubQuery, error) {
	var resp decomposition
	if err := d.Caller.Decide(ctx, oracle.TaskDecompose, buildDecomposePrompt(req), &resp); err != nil {
		return nil, err
	}
	return convertSubQueries(resp.SubQueries)
}

type OracleJudge struct {
	Caller       *oracle.Caller
	MaxFollowUps int
}

var _ retrieval.Judge = (*OracleJudge)(nil)

func (j *OracleJudge) Judge(ctx context.Context, req retrieval.JudgeRequest) (retrieval.Judgment, error) {
	maxFollowUps := j.MaxFollowUps
	if maxFollowUps <= 0 {
		maxFollowUps = DefaultMaxFollowUps
	}

	var resp sufficiency
	if err := j.Caller.Decide(ctx, oracle.TaskJudge, buildJudgePrompt(req, maxFollowUps), &resp); err != nil {
		return retrieval.Judgment{}, err
	}
	if resp.IsSufficient {
		return retrieval.Judgment{Sufficient: true}, nil
	}

	followUps, err := convertSubQueries(resp.NewSubQueries)
	if err != nil {
		return retrieval.Judgment{}, err
	}
	if len(followUps) > maxFollowUps {
		followUps = followUps[:maxFollowUps]
	}
	return retrieval.Judgment{Missing: resp.MissingInfo, FollowUps: followUps}, nil
}

type OracleCallbackDetector struct {
	Caller *oracle.Caller
}

var _ memory.CallbackDetector = (*OracleCallbackDetector)(nil)

func (d *OracleCallbackDetector) DetectCallback(ctx context.Context, query string, history []memory.Turn) ([]int, error) {
	if len(history) == 0 {
		return nil, nil
	}
	var resp callbackDecision
	if err := d.Caller.Decide(ctx, oracle.TaskCallback, buildCallbackPrompt(query, history), &resp); err != nil {
		return nil, err
	}
	if !resp.NeedsCallback {
		return nil, nil
	}
	return resp.RelatedTurnIndices, nil
}

type OracleSummarizer struct {
	Caller *oracle.Caller
}

var _ memory.Summarizer = (*OracleSummarizer)(nil)

func (s *OracleSummarizer) Summarize(ctx context.Context, turn memory.Turn) (string, error) {
	var resp turnSummary
	if err := s.Caller.Decide(ctx, oracle.TaskSummarize, buildSummarizePrompt(turn), &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Summary), nil
}
