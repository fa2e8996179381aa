package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	KindCharacter = "character"
	KindEvent     = "event"
)

type Schema struct {
	Version            int        `yaml:"version"`
	Kinds              []KindRule `yaml:"kinds"`
	RelationalKeywords []string   `yaml:"relational_keywords"`
	Anaphora           []string   `yaml:"anaphora"`

	kindIndex  map[string]*KindRule
	labelIndex map[string]string
}

type KindRule struct {
	Name            string   `yaml:"name"`
	CommunityLabels []string `yaml:"community_labels"`
	Keywords        []string `yaml:"keywords"`
}

func DefaultSchema() *Schema {
	s := &Schema{
		Version: 1,
		Kinds: []KindRule{
			{
				Name:            KindCharacter,
				CommunityLabels: []string{"character-focused", "character"},
				Keywords:        []string{"是谁", "性格", "特点", "说话", "语气", "口头禅", "喜欢", "讨厌", "外貌", "who", "personality", "speak", "style", "like"},
			},
			{
				Name:            KindEvent,
				CommunityLabels: []string{"event-focused", "location-focused", "object-focused", "event", "mixed"},
				Keywords:        []string{"发生", "事件", "经历", "过去", "曾经", "什么时候", "哪里", "故事", "when", "where", "happened", "event", "story"},
			},
		},
		RelationalKeywords: []string{"关系", "之间", "认识", "朋友", "敌人", "和", "与", "relationship", "between", "friend", "enemy"},
		Anaphora:           []string{"她", "他", "它", "他们", "她们", "这个", "那个", "那件", "she", "he", "her", "him", "his", "they", "them", "that", "it"},
	}
	s.buildIndex()
	return s
}

func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	if err := validateSchema(&schema); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	schema.buildIndex()
	return &schema, nil
}

func (s *Schema) buildIndex() {
	s.kindIndex = make(map[string]*KindRule)
	s.labelIndex = make(map[string]string)
	for i := range s.Kinds {
		rule := &s.Kinds[i]
		name := strings.ToLower(rule.Name)
		s.kindIndex[name] = rule
		s.labelIndex[name] = name
		for _, label := range rule.CommunityLabels {
			s.labelIndex[strings.ToLower(strings.TrimSpace(label))] = name
		}
	}
}

func validateSchema(s *Schema) error {
	if s.Version != 1 {
		return fmt.Errorf("unsupported version: %d", s.Version)
	}
	if len(s.Kinds) == 0 {
		return fmt.Errorf("at least one kind is required")
	}

	kindNames := make(map[string]struct{})
	labels := make(map[string]string)
	for i, rule := range s.Kinds {
		name := strings.ToLower(strings.TrimSpace(rule.Name))
		if name == "" {
			return fmt.Errorf("kind %d name is required", i)
		}
		if name != KindCharacter && name != KindEvent {
			return fmt.Errorf("unknown kind: %s", rule.Name)
		}
		if _, exists := kindNames[name]; exists {
			return fmt.Errorf("duplicate kind: %s", rule.Name)
		}
		kindNames[name] = struct{}{}

		for _, label := range rule.CommunityLabels {
			key := strings.ToLower(strings.TrimSpace(label))
			if key == "" {
				return fmt.Errorf("kind %s has empty community label", rule.Name)
			}
			if owner, exists := labels[key]; exists && owner != name {
				return fmt.Errorf("community label %s mapped to both %s and %s", label, owner, name)
			}
			labels[key] = name
		}
	}

	return nil
}

func (s *Schema) KindRuleByName(name string) (*KindRule, bool) {
	if s == nil {
		return nil, false
	}
	rule, ok := s.kindIndex[strings.ToLower(name)]
	return rule, ok
}

// KindForLabel maps a kind name or a community label from the graph build
// onto a kind name.
func (s *Schema) KindForLabel(label string) (string, bool) {
	if s == nil {
		return "", false
	}
	kind, ok := s.labelIndex[strings.ToLower(strings.TrimSpace(label))]
	return kind, ok
}

func (s *Schema) Keywords(kind string) []string {
	rule, ok := s.KindRuleByName(kind)
	if !ok {
		return nil
	}
	return rule.Keywords
}
