package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"rolecraft/internal/agent"
	"rolecraft/internal/graph"
	"rolecraft/internal/memory"
	"rolecraft/internal/store"
)

// ContextAnswerer is the part of agent.Agent the tools drive.
type ContextAnswerer interface {
	AnswerContext(ctx context.Context, query string) (*agent.ContextBundle, error)
	Turns() []memory.Turn
}

type LoreSearcher interface {
	Search(ctx context.Context, query, entityType string, limit int) ([]store.SearchResult, error)
}

type Server struct {
	agent    ContextAnswerer
	snapshot *graph.Snapshot
	search   LoreSearcher
	mcp      *sdk.Server
}

func NewServer(answerer ContextAnswerer, snapshot *graph.Snapshot, search LoreSearcher, version string) *Server {
	s := &Server{
		agent:    answerer,
		snapshot: snapshot,
		search:   search,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "rolecraft",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
