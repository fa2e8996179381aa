package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rolecraft/internal/config"
	"rolecraft/internal/retrieval"
)

func TestInitThenAsk(t *testing.T) {
	t.Chdir(t.TempDir())
	configPath = "rolecraft.yaml"
	schemaPath = "schema.yaml"

	if err := runInit("demo", config.ProviderHeuristic); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := runInit("demo", config.ProviderHeuristic); err == nil {
		t.Fatalf("expected second init to refuse overwriting")
	}

	lore := "---\nid: c7\nname: 七七\ntype: character\npersona: 僵尸,记性不好\nstyle_description: 说话缓慢\n---\n"
	if err := os.WriteFile(filepath.Join("lore", "qiqi.md"), []byte(lore), 0o644); err != nil {
		t.Fatalf("write lore: %v", err)
	}

	ctx := context.Background()
	rt, err := newApp(ctx)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer rt.Close(ctx)

	bundle, err := rt.agent.AnswerContext(ctx, "七七是谁")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if bundle.State != retrieval.StateSatisfied {
		t.Fatalf("expected SATISFIED, got %s", bundle.State)
	}
	if len(bundle.Chunks) == 0 || bundle.Chunks[0].ID != "c7" {
		t.Fatalf("expected c7 as top chunk, got %+v", bundle.Chunks)
	}

	var out bytes.Buffer
	printBundle(&out, bundle)
	if !strings.Contains(out.String(), "[c7]") {
		t.Fatalf("expected chunk in output, got %q", out.String())
	}

	if _, err := os.Stat(config.DefaultMemoryPath); err != nil {
		t.Fatalf("expected memory persisted: %v", err)
	}
	if err := resetMemory(ctx, config.DefaultMemoryPath, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(config.DefaultMemoryPath); !os.IsNotExist(err) {
		t.Fatalf("expected memory file removed, got %v", err)
	}
}

func TestLoadProjectFallsBackToDefaultSchema(t *testing.T) {
	t.Chdir(t.TempDir())
	configPath = "rolecraft.yaml"
	schemaPath = "missing-schema.yaml"

	if err := os.WriteFile(configPath, []byte("project: demo\nversion: 1\ngraph:\n  sources: [./lore/]\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, schema, err := loadProject()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Oracle.Provider != config.ProviderHeuristic {
		t.Fatalf("expected heuristic provider, got %q", cfg.Oracle.Provider)
	}
	if schema == nil || len(schema.Kinds) != 2 {
		t.Fatalf("expected default schema, got %+v", schema)
	}

	o, err := buildOracle(context.Background(), cfg)
	if err != nil || o != nil {
		t.Fatalf("expected no oracle for heuristic provider, got %v, %v", o, err)
	}
}
