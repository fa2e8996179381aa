package parser

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"rolecraft/internal/graph"
)

func TestParse(t *testing.T) {
	t.Run("character sheet with relationships", func(t *testing.T) {
		content := []byte("---\nid: c2\ntitle: 胡桃\ntype: character\npersona: 往生堂堂主\nstyle_exemplars: 嘿嘿\nrelationships:\n  - target: c7\n    description: 想把七七送去安息\n    attitude: 好奇\n    strength: 0.6\n---\n\n胡桃是往生堂第七十七代堂主。\n")
		doc, err := Parse(content)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if doc.Entity == nil || doc.Community != nil {
			t.Fatalf("expected an entity document, got %#v", doc)
		}
		if doc.Entity.Name != "胡桃" {
			t.Fatalf("expected title to fill name, got %q", doc.Entity.Name)
		}
		if !reflect.DeepEqual(doc.Entity.StyleExemplars, []string{"嘿嘿"}) {
			t.Fatalf("unexpected exemplars: %#v", doc.Entity.StyleExemplars)
		}
		if doc.Entity.Description != "胡桃是往生堂第七十七代堂主。" {
			t.Fatalf("expected body to fill description, got %q", doc.Entity.Description)
		}
		want := []graph.Relationship{{SourceID: "c2", TargetID: "c7", Description: "想把七七送去安息", Attitude: "好奇", Strength: 0.6}}
		if !reflect.DeepEqual(doc.Relationships, want) {
			t.Fatalf("unexpected relationships: %#v", doc.Relationships)
		}
	})

	t.Run("explicit description wins over body", func(t *testing.T) {
		doc, err := Parse([]byte("---\nid: e1\nname: 往生堂\ntype: location\ndescription: 璃月的殡葬机构\n---\nlonger notes\n"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if doc.Entity.Description != "璃月的殡葬机构" {
			t.Fatalf("unexpected description %q", doc.Entity.Description)
		}
		if doc.Body != "longer notes" {
			t.Fatalf("unexpected body %q", doc.Body)
		}
	})

	t.Run("community", func(t *testing.T) {
		doc, err := Parse([]byte("---\nid: k1\ntype: character-focused\nmembers: [c7, c2]\n---\n往生堂周边的人物\n"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if doc.Community == nil || doc.Entity != nil {
			t.Fatalf("expected a community document, got %#v", doc)
		}
		if !reflect.DeepEqual(doc.Community.MemberIDs, []string{"c7", "c2"}) {
			t.Fatalf("unexpected members: %#v", doc.Community.MemberIDs)
		}
		if doc.Community.Summary != "往生堂周边的人物" {
			t.Fatalf("expected body summary, got %q", doc.Community.Summary)
		}
	})

	t.Run("minimal frontmatter", func(t *testing.T) {
		doc, err := Parse([]byte("---\nid: m1\nname: Minimal\ntype: lore\n---\n"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if doc.Entity.StyleExemplars != nil {
			t.Fatalf("expected nil exemplars, got %#v", doc.Entity.StyleExemplars)
		}
		if doc.Body != "" || doc.Relationships != nil {
			t.Fatalf("expected empty body and no relationships")
		}
	})

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "no frontmatter", content: "Just text", want: ErrNoFrontmatter},
		{name: "missing closing marker", content: "---\nid: a\n", want: ErrNoFrontmatter},
		{name: "invalid yaml", content: "---\nid: [\n---\n", want: ErrInvalidYAML},
		{name: "missing id", content: "---\nname: A\ntype: character\n---\n", want: ErrMissingID},
		{name: "missing name", content: "---\nid: a\ntype: character\n---\n", want: ErrMissingName},
		{name: "missing type", content: "---\nid: a\nname: A\n---\n", want: ErrMissingType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("relationship without target", func(t *testing.T) {
		_, err := Parse([]byte("---\nid: a\nname: A\ntype: character\nrelationships:\n  - description: x\n---\n"))
		if err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("exemplars must be strings", func(t *testing.T) {
		_, err := Parse([]byte("---\nid: a\nname: A\ntype: character\nstyle_exemplars:\n  - {a: b}\n---\n"))
		if !errors.Is(err, ErrInvalidYAML) {
			t.Fatalf("expected ErrInvalidYAML, got %v", err)
		}
	})
}

func TestParseFile(t *testing.T) {
	path := filepath.Join("testdata", "qiqi.md")
	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if doc.Entity.Name != "七七" {
		t.Fatalf("expected name, got %q", doc.Entity.Name)
	}
	if doc.SourceFile != path || doc.Entity.SourceFile != path {
		t.Fatalf("expected source file set on document and entity")
	}
	if len(doc.Entity.StyleExemplars) != 2 {
		t.Fatalf("expected 2 exemplars, got %d", len(doc.Entity.StyleExemplars))
	}
	if len(doc.Relationships) != 1 || doc.Relationships[0].Strength != 0.4 {
		t.Fatalf("unexpected relationships: %#v", doc.Relationships)
	}
}

func TestParseFile_NoFrontmatter(t *testing.T) {
	_, err := ParseFile(filepath.Join("testdata", "no_frontmatter.md"))
	if !errors.Is(err, ErrNoFrontmatter) {
		t.Fatalf("expected ErrNoFrontmatter, got %v", err)
	}
}

func TestParseFile_MissingType(t *testing.T) {
	_, err := ParseFile(filepath.Join("testdata", "missing_type.md"))
	if !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestParse_BOMTrim(t *testing.T) {
	content := []byte("\ufeff---\nid: b\nname: BOM\ntype: lore\n---\n")
	doc, err := Parse(content)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if doc.Entity.Name != "BOM" {
		t.Fatalf("expected name, got %q", doc.Entity.Name)
	}
}

func TestParseFile_ReadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected missing file")
	}
	if _, err := ParseFile(path); err == nil {
		t.Fatalf("expected error")
	}
}
