package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"rolecraft/internal/agent"
	"rolecraft/internal/graph"
	"rolecraft/internal/memory"
	"rolecraft/internal/retrieval"
	"rolecraft/internal/store"
)

type AnswerContextInput struct {
	Query string `json:"query" jsonschema:"the user's question about the story world"`
}

type SearchLoreInput struct {
	Query string `json:"query" jsonschema:"search terms"`
	Type  string `json:"type,omitempty" jsonschema:"restrict to a specific entity type"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

type GetEntityInput struct {
	ID   string `json:"id,omitempty" jsonschema:"entity id"`
	Name string `json:"name,omitempty" jsonschema:"entity name, used when id is empty"`
}

type ListTurnsInput struct{}

type ChunkOutput struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Granularity string  `json:"granularity"`
	SourceQuery string  `json:"source_query"`
	Score       float64 `json:"score"`
	Text        string  `json:"text"`
}

type SubQueryOutput struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Priority int    `json:"priority"`
}

type AnswerContextOutput struct {
	CycleID          string           `json:"cycle_id"`
	TurnIndex        int              `json:"turn_index"`
	State            string           `json:"state"`
	Iterations       int              `json:"iterations"`
	Missing          string           `json:"missing,omitempty"`
	CallbackTurns    []int            `json:"callback_turns"`
	SubQueries       []SubQueryOutput `json:"sub_queries"`
	CachedSubQueries []SubQueryOutput `json:"cached_sub_queries"`
	Chunks           []ChunkOutput    `json:"chunks"`
}

type SearchResultOutput struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	EntityType string  `json:"type"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

type SearchLoreOutput struct {
	Results []SearchResultOutput `json:"results"`
}

type RelationshipOutput struct {
	TargetID    string  `json:"target_id"`
	TargetName  string  `json:"target_name"`
	Description string  `json:"description,omitempty"`
	Attitude    string  `json:"attitude,omitempty"`
	Strength    float64 `json:"strength"`
}

type EntityOutput struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	EntityType       string               `json:"type"`
	Kind             string               `json:"kind"`
	Persona          string               `json:"persona,omitempty"`
	StyleDescription string               `json:"style_description,omitempty"`
	StyleExemplars   []string             `json:"style_exemplars,omitempty"`
	Description      string               `json:"description,omitempty"`
	SourceFile       string               `json:"source_file,omitempty"`
	Relationships    []RelationshipOutput `json:"relationships"`
	Rendered         string               `json:"rendered"`
}

type TurnOutput struct {
	Index         int              `json:"turn_index"`
	Query         string           `json:"query"`
	Summary       string           `json:"summary,omitempty"`
	CallbackTurns []int            `json:"callback_turns"`
	SubQueries    []SubQueryOutput `json:"sub_queries"`
	ChunkIDs      []string         `json:"chunk_ids"`
	Timestamp     string           `json:"timestamp"`
}

type ListTurnsOutput struct {
	Turns []TurnOutput `json:"turns"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "answer_context",
		Description: "Gather knowledge-graph context for a question, using earlier turns of the conversation",
	}, s.handleAnswerContext)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "search_lore",
		Description: "Search entities by name, persona, style, and description",
	}, s.handleSearchLore)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_entity",
		Description: "Retrieve a specific entity with its outgoing relationships",
	}, s.handleGetEntity)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_turns",
		Description: "List the retained conversation turns, oldest first",
	}, s.handleListTurns)
}

func (s *Server) handleAnswerContext(ctx context.Context, req *sdk.CallToolRequest, input AnswerContextInput) (*sdk.CallToolResult, AnswerContextOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, AnswerContextOutput{}, fmt.Errorf("query is required")
	}
	bundle, err := s.agent.AnswerContext(ctx, input.Query)
	if err != nil {
		return nil, AnswerContextOutput{}, err
	}
	return nil, answerOutputFromBundle(bundle), nil
}

func (s *Server) handleSearchLore(ctx context.Context, req *sdk.CallToolRequest, input SearchLoreInput) (*sdk.CallToolResult, SearchLoreOutput, error) {
	if input.Query == "" {
		return nil, SearchLoreOutput{}, fmt.Errorf("query is required")
	}
	results, err := s.search.Search(ctx, input.Query, input.Type, input.Limit)
	if err != nil {
		return nil, SearchLoreOutput{}, err
	}

	output := make([]SearchResultOutput, 0, len(results))
	for _, result := range results {
		output = append(output, searchResultOutputFromStore(result))
	}
	return nil, SearchLoreOutput{Results: output}, nil
}

func (s *Server) handleGetEntity(ctx context.Context, req *sdk.CallToolRequest, input GetEntityInput) (*sdk.CallToolResult, EntityOutput, error) {
	if input.ID == "" && input.Name == "" {
		return nil, EntityOutput{}, fmt.Errorf("id or name is required")
	}
	entity, ok := s.lookupEntity(input)
	if !ok {
		return nil, EntityOutput{}, fmt.Errorf("entity not found")
	}
	return nil, s.entityOutput(entity), nil
}

func (s *Server) handleListTurns(ctx context.Context, req *sdk.CallToolRequest, input ListTurnsInput) (*sdk.CallToolResult, ListTurnsOutput, error) {
	turns := s.agent.Turns()
	output := make([]TurnOutput, 0, len(turns))
	for _, turn := range turns {
		output = append(output, turnOutputFromMemory(turn))
	}
	return nil, ListTurnsOutput{Turns: output}, nil
}

func (s *Server) lookupEntity(input GetEntityInput) (graph.Entity, bool) {
	if s.snapshot == nil {
		return graph.Entity{}, false
	}
	if input.ID != "" {
		return s.snapshot.Entity(input.ID)
	}
	for _, e := range s.snapshot.Entities {
		if strings.EqualFold(e.Name, input.Name) {
			return e, true
		}
	}
	return graph.Entity{}, false
}

func (s *Server) entityOutput(e graph.Entity) EntityOutput {
	out := EntityOutput{
		ID:               e.ID,
		Name:             e.Name,
		EntityType:       e.Type,
		Kind:             e.Kind.String(),
		Persona:          e.Persona,
		StyleDescription: e.StyleDescription,
		StyleExemplars:   append([]string{}, e.StyleExemplars...),
		Description:      e.Description,
		SourceFile:       e.SourceFile,
		Relationships:    []RelationshipOutput{},
	}
	for _, rel := range s.snapshot.Outgoing(e.ID) {
		out.Relationships = append(out.Relationships, RelationshipOutput{
			TargetID:    rel.TargetID,
			TargetName:  s.snapshot.EntityName(rel.TargetID),
			Description: rel.Description,
			Attitude:    rel.Attitude,
			Strength:    rel.Strength,
		})
	}
	out.Rendered, _ = s.snapshot.Render(e.ID)
	return out
}

func answerOutputFromBundle(bundle *agent.ContextBundle) AnswerContextOutput {
	out := AnswerContextOutput{
		CycleID:          bundle.CycleID,
		TurnIndex:        bundle.TurnIndex,
		State:            string(bundle.State),
		Iterations:       bundle.Iterations,
		Missing:          bundle.Missing,
		CallbackTurns:    append([]int{}, bundle.CallbackTurns...),
		SubQueries:       subQueryOutputs(bundle.SubQueries),
		CachedSubQueries: subQueryOutputs(bundle.CachedSubQueries),
		Chunks:           make([]ChunkOutput, 0, len(bundle.Chunks)),
	}
	for _, c := range bundle.Chunks {
		out.Chunks = append(out.Chunks, ChunkOutput{
			ID:          c.ID,
			Kind:        c.Kind.String(),
			Granularity: c.Granularity.String(),
			SourceQuery: c.SourceQuery,
			Score:       c.Score,
			Text:        c.Text,
		})
	}
	return out
}

func turnOutputFromMemory(turn memory.Turn) TurnOutput {
	out := TurnOutput{
		Index:         turn.Index,
		Query:         turn.UserQuery,
		Summary:       turn.Summary,
		CallbackTurns: append([]int{}, turn.CallbackTurns...),
		SubQueries:    subQueryOutputs(turn.SubQueries),
		ChunkIDs:      make([]string, 0, len(turn.RetrievedChunks)),
		Timestamp:     turn.Timestamp.UTC().Format(time.RFC3339),
	}
	for _, c := range turn.RetrievedChunks {
		out.ChunkIDs = append(out.ChunkIDs, c.ID)
	}
	return out
}

func subQueryOutputs(items []retrieval.SubQuery) []SubQueryOutput {
	out := make([]SubQueryOutput, 0, len(items))
	for _, q := range items {
		out = append(out, SubQueryOutput{Text: q.Text, Type: q.Kind.String(), Priority: int(q.Priority)})
	}
	return out
}

func searchResultOutputFromStore(result store.SearchResult) SearchResultOutput {
	return SearchResultOutput{
		ID:         result.ID,
		Name:       result.Name,
		EntityType: result.EntityType,
		Score:      result.Score,
		Snippet:    result.Snippet,
	}
}
