package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxIterations   = 5
	DefaultHistoryLimit    = 5
	DefaultOracleTimeout   = 30 * time.Second
	DefaultMaxRetries      = 2
	DefaultTopKEntities    = 5
	DefaultTopKCommunities = 2
	DefaultConcurrency     = 4
	DefaultMemoryPath      = ".rolecraft/memory.json"
)

const (
	ProviderHeuristic = "heuristic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
)

type ProjectConfig struct {
	Project  string         `yaml:"project"`
	Version  int            `yaml:"version"`
	Database DatabaseConfig `yaml:"database"`
	Graph    GraphConfig    `yaml:"graph"`
	Agent    AgentConfig    `yaml:"agent"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Memory   MemoryConfig   `yaml:"memory"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type GraphConfig struct {
	Snapshot string   `yaml:"snapshot"`
	Sources  []string `yaml:"sources"`
	Exclude  []string `yaml:"exclude"`
}

type AgentConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	HistoryLimit    int           `yaml:"history_limit"`
	OracleTimeout   time.Duration `yaml:"oracle_timeout"`
	MaxRetries      *int          `yaml:"max_retries"`
	TopKEntities    int           `yaml:"top_k_entities"`
	TopKCommunities int           `yaml:"top_k_communities"`
	Concurrency     int           `yaml:"concurrency"`
}

type OracleConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type MemoryConfig struct {
	Path string `yaml:"path"`
}

func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateProjectConfig(&cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	return &cfg, nil
}

// Retries returns the configured retry count, falling back to the default
// only when the key was absent.
func (a AgentConfig) Retries() int {
	if a.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *a.MaxRetries
}

func applyDefaults(cfg *ProjectConfig) {
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Agent.OracleTimeout == 0 {
		cfg.Agent.OracleTimeout = DefaultOracleTimeout
	}
	if cfg.Agent.TopKEntities == 0 {
		cfg.Agent.TopKEntities = DefaultTopKEntities
	}
	if cfg.Agent.TopKCommunities == 0 {
		cfg.Agent.TopKCommunities = DefaultTopKCommunities
	}
	if cfg.Agent.Concurrency == 0 {
		cfg.Agent.Concurrency = DefaultConcurrency
	}
	if strings.TrimSpace(cfg.Oracle.Provider) == "" {
		cfg.Oracle.Provider = ProviderHeuristic
	}
	if strings.TrimSpace(cfg.Memory.Path) == "" {
		cfg.Memory.Path = DefaultMemoryPath
	}
}

func validateProjectConfig(cfg *ProjectConfig) error {
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("project name is required")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported version: %d", cfg.Version)
	}

	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn != "" && !strings.HasPrefix(dsn, "sqlite://") && !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return fmt.Errorf("unsupported database dsn scheme: %s", dsn)
	}
	if strings.TrimSpace(cfg.Graph.Snapshot) == "" && len(cfg.Graph.Sources) == 0 && dsn == "" {
		return fmt.Errorf("graph snapshot, graph sources, or database dsn is required")
	}
	for i, source := range cfg.Graph.Sources {
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("graph source %d is empty", i)
		}
	}

	agent := cfg.Agent
	if agent.MaxIterations < 1 {
		return fmt.Errorf("agent max_iterations must be at least 1, got %d", agent.MaxIterations)
	}
	if agent.HistoryLimit < 1 {
		return fmt.Errorf("agent history_limit must be at least 1, got %d", agent.HistoryLimit)
	}
	if agent.OracleTimeout < 0 {
		return fmt.Errorf("agent oracle_timeout must not be negative")
	}
	if agent.Retries() < 0 {
		return fmt.Errorf("agent max_retries must not be negative")
	}
	if agent.TopKEntities < 0 || agent.TopKCommunities < 0 {
		return fmt.Errorf("agent top_k values must not be negative")
	}
	if agent.Concurrency < 1 {
		return fmt.Errorf("agent concurrency must be at least 1, got %d", agent.Concurrency)
	}

	switch strings.ToLower(cfg.Oracle.Provider) {
	case ProviderHeuristic:
	case ProviderGemini, ProviderOpenAI:
		if strings.TrimSpace(cfg.Oracle.Model) == "" {
			return fmt.Errorf("oracle model is required for provider %s", cfg.Oracle.Provider)
		}
		if strings.TrimSpace(cfg.Oracle.APIKeyEnv) == "" {
			return fmt.Errorf("oracle api_key_env is required for provider %s", cfg.Oracle.Provider)
		}
	default:
		return fmt.Errorf("unknown oracle provider: %s", cfg.Oracle.Provider)
	}

	return nil
}
