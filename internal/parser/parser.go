package parser

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rolecraft/internal/graph"
)

// Document is one lore file: either an entity with its outgoing
// relationships, or a community when the frontmatter lists members.
type Document struct {
	Entity        *graph.Entity
	Community     *graph.Community
	Relationships []graph.Relationship
	Body          string
	SourceFile    string
}

var (
	ErrNoFrontmatter = errors.New("no frontmatter found")
	ErrInvalidYAML   = errors.New("invalid YAML in frontmatter")
	ErrMissingID     = errors.New("frontmatter missing required 'id' field")
	ErrMissingName   = errors.New("frontmatter missing required 'name' or 'title' field")
	ErrMissingType   = errors.New("frontmatter missing required 'type' field")
)

type frontmatter struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Title            string         `yaml:"title"`
	Type             string         `yaml:"type"`
	Persona          string         `yaml:"persona"`
	StyleDescription string         `yaml:"style_description"`
	StyleExemplars   stringList     `yaml:"style_exemplars"`
	Description      string         `yaml:"description"`
	Relationships    []relationship `yaml:"relationships"`
	Members          stringList     `yaml:"members"`
	Summary          string         `yaml:"summary"`
}

type relationship struct {
	Target      string  `yaml:"target"`
	Description string  `yaml:"description"`
	Attitude    string  `yaml:"attitude"`
	Strength    float64 `yaml:"strength"`
}

// stringList accepts a single string or a list of strings.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(node.Value) == "" {
			*l = nil
			return nil
		}
		*l = stringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return fmt.Errorf("list items must be strings")
		}
		out := make(stringList, 0, len(items))
		for _, item := range items {
			if strings.TrimSpace(item) != "" {
				out = append(out, item)
			}
		}
		if len(out) == 0 {
			out = nil
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("must be string or list of strings")
	}
}

func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	doc.SourceFile = path
	if doc.Entity != nil {
		doc.Entity.SourceFile = path
	}
	return doc, nil
}

func Parse(content []byte) (*Document, error) {
	trimmed := bytes.TrimLeft(content, "\ufeff\n\r\t ")
	if !bytes.HasPrefix(trimmed, []byte("---\n")) {
		return nil, ErrNoFrontmatter
	}

	rest := trimmed[len("---\n"):]
	end := bytes.Index(rest, []byte("---\n"))
	if end == -1 {
		return nil, ErrNoFrontmatter
	}

	yamlBytes := rest[:end]
	body := strings.TrimSpace(string(rest[end+len("---\n"):]))

	var fm frontmatter
	if err := yaml.Unmarshal(yamlBytes, &fm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	id := strings.TrimSpace(fm.ID)
	if id == "" {
		return nil, ErrMissingID
	}
	if strings.TrimSpace(fm.Type) == "" {
		return nil, ErrMissingType
	}

	if len(fm.Members) > 0 {
		summary := fm.Summary
		if strings.TrimSpace(summary) == "" {
			summary = body
		}
		return &Document{
			Community: &graph.Community{
				ID:        id,
				Type:      fm.Type,
				MemberIDs: []string(fm.Members),
				Summary:   summary,
			},
			Body: body,
		}, nil
	}

	name := fm.Name
	if strings.TrimSpace(name) == "" {
		name = fm.Title
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrMissingName
	}

	description := fm.Description
	if strings.TrimSpace(description) == "" {
		description = body
	}

	entity := &graph.Entity{
		ID:               id,
		Name:             name,
		Type:             fm.Type,
		Persona:          fm.Persona,
		StyleDescription: fm.StyleDescription,
		StyleExemplars:   []string(fm.StyleExemplars),
		Description:      description,
	}

	var relationships []graph.Relationship
	for i, r := range fm.Relationships {
		if strings.TrimSpace(r.Target) == "" {
			return nil, fmt.Errorf("relationship %d of %s has no target", i, id)
		}
		relationships = append(relationships, graph.Relationship{
			SourceID:    id,
			TargetID:    r.Target,
			Description: r.Description,
			Attitude:    r.Attitude,
			Strength:    r.Strength,
		})
	}

	return &Document{
		Entity:        entity,
		Relationships: relationships,
		Body:          body,
	}, nil
}
