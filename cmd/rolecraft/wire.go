package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"rolecraft/internal/agent"
	"rolecraft/internal/config"
	"rolecraft/internal/graph"
	"rolecraft/internal/index"
	"rolecraft/internal/ingest"
	"rolecraft/internal/memory"
	"rolecraft/internal/oracle"
	"rolecraft/internal/oracle/gemini"
	"rolecraft/internal/oracle/openai"
	"rolecraft/internal/store"
	"rolecraft/internal/store/postgres"
	"rolecraft/internal/store/sqlite"
)

func loadProject() (*config.ProjectConfig, *config.Schema, error) {
	cfg, err := config.LoadProjectConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	schema, err := config.LoadSchema(schemaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, config.DefaultSchema(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, schema, nil
}

// openStore returns nil when no database is configured.
func openStore(ctx context.Context, cfg *config.ProjectConfig) (store.Store, error) {
	dsn := strings.TrimSpace(cfg.Database.DSN)
	switch {
	case dsn == "":
		return nil, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		client, err := sqlite.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// loadSnapshot prefers the configured files; the database graph is used
// only when neither a snapshot file nor lore sources are configured.
func loadSnapshot(ctx context.Context, cfg *config.ProjectConfig, schema *config.Schema, db store.Store, logger *log.Logger) (*graph.Snapshot, error) {
	if cfg.Graph.Snapshot == "" && len(cfg.Graph.Sources) == 0 {
		if db == nil {
			return nil, fmt.Errorf("no graph source configured")
		}
		doc, err := db.LoadDocument(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading graph from database: %w", err)
		}
		return graph.New(*doc, schema), nil
	}

	src, err := ingest.Load(cfg.Graph)
	if err != nil {
		return nil, err
	}
	for _, loadErr := range src.Errors {
		logger.Warn("skipping lore file", "err", loadErr)
	}
	logger.Debug("graph loaded", "entities", len(src.Document.Entities), "relationships", len(src.Document.Relationships), "communities", len(src.Document.Communities), "skipped", src.FilesSkipped)
	return graph.New(src.Document, schema), nil
}

func buildOracle(ctx context.Context, cfg *config.ProjectConfig) (oracle.Oracle, error) {
	apiKey := ""
	if cfg.Oracle.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.Oracle.APIKeyEnv)
	}

	switch strings.ToLower(cfg.Oracle.Provider) {
	case config.ProviderGemini:
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		client, err := gemini.New(ctx, apiKey, cfg.Oracle.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderOpenAI:
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		client, err := openai.New(apiKey, cfg.Oracle.BaseURL, cfg.Oracle.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, nil
	}
}

func persisterFor(cfg *config.ProjectConfig, db store.Store) memory.Persister {
	if db != nil {
		return db
	}
	return memory.NewFileStore(cfg.Memory.Path)
}

// app is everything a command needs to run answer cycles.
type app struct {
	cfg      *config.ProjectConfig
	schema   *config.Schema
	db       store.Store
	snapshot *graph.Snapshot
	index    *index.Index
	agent    *agent.Agent
	logger   *log.Logger
}

func (r *app) Close(ctx context.Context) {
	if r.db != nil {
		if err := r.db.Close(ctx); err != nil {
			r.logger.Warn("closing database", "err", err)
		}
	}
}

func newApp(ctx context.Context) (*app, error) {
	logger := newLogger()

	cfg, schema, err := loadProject()
	if err != nil {
		return nil, err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &app{cfg: cfg, schema: schema, db: db, logger: logger}

	rt.snapshot, err = loadSnapshot(ctx, cfg, schema, db, logger)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.index = index.BuildFromSnapshot(rt.snapshot)

	o, err := buildOracle(ctx, cfg)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.agent, err = agent.New(ctx, agent.ConfigFrom(cfg.Agent), agent.Deps{
		Snapshot:  rt.snapshot,
		Index:     rt.index,
		Schema:    schema,
		Oracle:    o,
		Persister: persisterFor(cfg, db),
		Logger:    logger,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}
