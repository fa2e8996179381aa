package graph

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindCharacter Kind = iota
	KindEvent
)

var Kinds = []Kind{KindCharacter, KindEvent}

func (k Kind) String() string {
	switch k {
	case KindCharacter:
		return "character"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "character":
		return KindCharacter, nil
	case "event", "non-character":
		return KindEvent, nil
	default:
		return 0, fmt.Errorf("unknown kind: %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if k != KindCharacter && k != KindEvent {
		return nil, fmt.Errorf("unknown kind: %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Entity is either a character (persona and style fields set) or a
// non-character entry (description set). Type holds the raw label from the
// source; Kind is resolved when the snapshot is built.
type Entity struct {
	ID               string   `yaml:"id" json:"id"`
	Name             string   `yaml:"name" json:"name"`
	Type             string   `yaml:"type" json:"type"`
	Persona          string   `yaml:"persona,omitempty" json:"persona,omitempty"`
	StyleDescription string   `yaml:"style_description,omitempty" json:"style_description,omitempty"`
	StyleExemplars   []string `yaml:"style_exemplars,omitempty" json:"style_exemplars,omitempty"`
	Description      string   `yaml:"description,omitempty" json:"description,omitempty"`
	SourceFile       string   `yaml:"source_file,omitempty" json:"source_file,omitempty"`

	Kind Kind `yaml:"-" json:"-"`
}

type Relationship struct {
	SourceID    string  `yaml:"source" json:"source"`
	TargetID    string  `yaml:"target" json:"target"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Attitude    string  `yaml:"attitude,omitempty" json:"attitude,omitempty"`
	Strength    float64 `yaml:"strength" json:"strength"`
}

type Community struct {
	ID        string   `yaml:"id" json:"id"`
	Type      string   `yaml:"type" json:"type"`
	MemberIDs []string `yaml:"members" json:"members"`
	Summary   string   `yaml:"summary" json:"summary"`

	Kind Kind `yaml:"-" json:"-"`
}

// Document is the on-disk snapshot layout.
type Document struct {
	Version       int            `yaml:"version" json:"version"`
	Entities      []Entity       `yaml:"entities" json:"entities"`
	Relationships []Relationship `yaml:"relationships" json:"relationships"`
	Communities   []Community    `yaml:"communities" json:"communities"`
}

type NameRef struct {
	ID   string
	Name string
	Kind Kind
}
