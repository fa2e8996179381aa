package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"rolecraft/internal/config"
)

// Snapshot is an immutable, in-memory view of a built knowledge graph.
type Snapshot struct {
	Entities      []Entity
	Relationships []Relationship
	Communities   []Community

	entityIndex    map[string]int
	communityIndex map[string]int
	outgoing       map[string][]int
	unknownLabels  map[string]struct{}
}

func New(doc Document, schema *config.Schema) *Snapshot {
	if schema == nil {
		schema = config.DefaultSchema()
	}

	s := &Snapshot{
		Entities:       append([]Entity(nil), doc.Entities...),
		Relationships:  append([]Relationship(nil), doc.Relationships...),
		Communities:    append([]Community(nil), doc.Communities...),
		entityIndex:    make(map[string]int),
		communityIndex: make(map[string]int),
		outgoing:       make(map[string][]int),
		unknownLabels:  make(map[string]struct{}),
	}

	for i := range s.Entities {
		e := &s.Entities[i]
		e.Kind = entityKind(e.Type, schema)
		if _, exists := s.entityIndex[e.ID]; !exists {
			s.entityIndex[e.ID] = i
		}
	}

	for i, rel := range s.Relationships {
		s.outgoing[rel.SourceID] = append(s.outgoing[rel.SourceID], i)
	}

	for i := range s.Communities {
		c := &s.Communities[i]
		if name, ok := schema.KindForLabel(c.Type); ok {
			c.Kind, _ = ParseKind(name)
		} else {
			s.unknownLabels[c.ID] = struct{}{}
			c.Kind = s.majorityKind(c.MemberIDs)
		}
		if _, exists := s.communityIndex[c.ID]; !exists {
			s.communityIndex[c.ID] = i
		}
	}

	return s
}

func entityKind(label string, schema *config.Schema) Kind {
	if name, ok := schema.KindForLabel(label); ok && name == config.KindCharacter {
		return KindCharacter
	}
	if strings.EqualFold(strings.TrimSpace(label), "character") {
		return KindCharacter
	}
	return KindEvent
}

func (s *Snapshot) majorityKind(memberIDs []string) Kind {
	characters := 0
	for _, id := range memberIDs {
		if e, ok := s.Entity(id); ok && e.Kind == KindCharacter {
			characters++
		}
	}
	if characters*2 > len(memberIDs) {
		return KindCharacter
	}
	return KindEvent
}

func LoadFile(path string, schema *config.Schema) (*Snapshot, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return New(*doc, schema), nil
}

func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	var doc Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("loading snapshot: unsupported file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if doc.Version != 0 && doc.Version != 1 {
		return nil, fmt.Errorf("loading snapshot: unsupported version: %d", doc.Version)
	}
	return &doc, nil
}

func (s *Snapshot) Document() Document {
	return Document{
		Version:       1,
		Entities:      append([]Entity(nil), s.Entities...),
		Relationships: append([]Relationship(nil), s.Relationships...),
		Communities:   append([]Community(nil), s.Communities...),
	}
}

func (s *Snapshot) Entity(id string) (Entity, bool) {
	if s == nil {
		return Entity{}, false
	}
	i, ok := s.entityIndex[id]
	if !ok {
		return Entity{}, false
	}
	return s.Entities[i], true
}

func (s *Snapshot) Community(id string) (Community, bool) {
	if s == nil {
		return Community{}, false
	}
	i, ok := s.communityIndex[id]
	if !ok {
		return Community{}, false
	}
	return s.Communities[i], true
}

func (s *Snapshot) Outgoing(id string) []Relationship {
	var rels []Relationship
	for _, i := range s.outgoing[id] {
		rels = append(rels, s.Relationships[i])
	}
	return rels
}

func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Entities) == 0 && len(s.Communities) == 0)
}

// Names returns every entity name, longest first, so callers scanning free
// text match "七七酱" before "七七".
func (s *Snapshot) Names() []NameRef {
	if s == nil {
		return nil
	}
	refs := make([]NameRef, 0, len(s.Entities))
	for id, i := range s.entityIndex {
		e := s.Entities[i]
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		refs = append(refs, NameRef{ID: id, Name: e.Name, Kind: e.Kind})
	}
	sort.Slice(refs, func(i, j int) bool {
		li, lj := len([]rune(refs[i].Name)), len([]rune(refs[j].Name))
		if li != lj {
			return li > lj
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}

func (s *Snapshot) EntityName(id string) string {
	if e, ok := s.Entity(id); ok && e.Name != "" {
		return e.Name
	}
	return id
}

// IndexText is the text an entity is ranked by.
func (s *Snapshot) IndexText(e Entity) string {
	parts := []string{e.Name}
	if e.Kind == KindCharacter {
		parts = append(parts, e.Persona, e.StyleDescription)
		parts = append(parts, e.StyleExemplars...)
	}
	parts = append(parts, e.Description)
	return joinNonEmpty(parts, "\n")
}

func (s *Snapshot) CommunityIndexText(c Community) string {
	parts := []string{c.Summary}
	for _, id := range c.MemberIDs {
		if e, ok := s.Entity(id); ok {
			parts = append(parts, e.Name)
		}
	}
	return joinNonEmpty(parts, "\n")
}

// Render produces the context text handed downstream for an entity or
// community id.
func (s *Snapshot) Render(id string) (string, bool) {
	if e, ok := s.Entity(id); ok {
		return s.renderEntity(e), true
	}
	if c, ok := s.Community(id); ok {
		return s.renderCommunity(c), true
	}
	return "", false
}

func (s *Snapshot) renderEntity(e Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s %s]\n", e.Name, e.Kind, e.ID)
	if e.Persona != "" {
		fmt.Fprintf(&b, "persona: %s\n", e.Persona)
	}
	if e.StyleDescription != "" {
		fmt.Fprintf(&b, "style: %s\n", e.StyleDescription)
	}
	for _, ex := range e.StyleExemplars {
		fmt.Fprintf(&b, "example: %s\n", ex)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "description: %s\n", e.Description)
	}
	for _, rel := range s.Outgoing(e.ID) {
		fmt.Fprintf(&b, "relation: %s -> %s", e.Name, s.EntityName(rel.TargetID))
		if rel.Description != "" {
			fmt.Fprintf(&b, ": %s", rel.Description)
		}
		if rel.Attitude != "" {
			fmt.Fprintf(&b, " (attitude %s, strength %.2f)", rel.Attitude, rel.Strength)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Snapshot) renderCommunity(c Community) string {
	names := make([]string, 0, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		names = append(names, s.EntityName(id))
	}
	return fmt.Sprintf("community %s [%s]\nmembers: %s\nsummary: %s", c.ID, c.Kind, strings.Join(names, ", "), c.Summary)
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
