package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rolecraft/internal/config"
)

const configTemplate = `project: %s
version: 1

# database:
#   dsn: sqlite://./rolecraft.db

graph:
  # snapshot: ./graph.yaml
  sources:
    - ./lore/
  exclude:
    - ./lore/drafts/

agent:
  max_iterations: %d
  history_limit: %d
  oracle_timeout: %s
  max_retries: %d
  top_k_entities: %d
  top_k_communities: %d
  concurrency: %d

oracle:
  provider: %s
  # model: gemini-2.5-flash
  # api_key_env: GEMINI_API_KEY

memory:
  path: %s
`

func initCmd() *cobra.Command {
	var projectName string
	var provider string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new rolecraft project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectName) == "" {
				return fmt.Errorf("--name is required")
			}
			return runInit(projectName, provider)
		},
	}
	cmd.Flags().StringVar(&projectName, "name", "", "Project name")
	cmd.Flags().StringVar(&provider, "provider", config.ProviderHeuristic, "Oracle provider (heuristic, gemini, openai)")
	return cmd
}

func runInit(projectName, provider string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if _, err := os.Stat(schemaPath); err == nil {
		return fmt.Errorf("%s already exists", schemaPath)
	}

	schema, err := yaml.Marshal(config.DefaultSchema())
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}

	configContents := fmt.Sprintf(configTemplate, projectName,
		config.DefaultMaxIterations, config.DefaultHistoryLimit, config.DefaultOracleTimeout,
		config.DefaultMaxRetries, config.DefaultTopKEntities, config.DefaultTopKCommunities,
		config.DefaultConcurrency, provider, config.DefaultMemoryPath)
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}
	if err := os.WriteFile(schemaPath, schema, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", schemaPath, err)
	}
	if err := os.MkdirAll("lore", 0o755); err != nil {
		return fmt.Errorf("creating lore directory: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Created %s and %s.\n", configPath, schemaPath)
	return nil
}
