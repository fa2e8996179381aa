package graph

import (
	"fmt"
	"sort"
	"strings"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

const (
	codeMissingID        = "missing_id"
	codeMissingName      = "missing_name"
	codeDuplicateID      = "duplicate_id"
	codeIDCollision      = "id_collision"
	codeDanglingEndpoint = "dangling_relationship"
	codeStrengthRange    = "strength_out_of_range"
	codeUnknownMember    = "unknown_community_member"
	codeUnknownCommunity = "unknown_community_type"
	codeEmptyCommunity   = "empty_community"
	codeOrphanedEntity   = "orphaned_entity"
	codeMissingPersona   = "missing_persona"
)

type Issue struct {
	Severity   Severity
	Code       string
	Message    string
	ID         string
	SourceFile string
}

type Report struct {
	Issues []Issue
}

func (r *Report) Errors() []Issue {
	return r.filter(SeverityError)
}

func (r *Report) Warnings() []Issue {
	return r.filter(SeverityWarn)
}

func (r *Report) HasErrors() bool {
	return len(r.Errors()) > 0
}

func (r *Report) filter(sev Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

func Validate(s *Snapshot) *Report {
	issues := make([]Issue, 0)
	if s == nil {
		return &Report{Issues: issues}
	}

	seen := make(map[string]int)
	for _, e := range s.Entities {
		if strings.TrimSpace(e.ID) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeMissingID, Message: fmt.Sprintf("entity %q has no id", e.Name), SourceFile: e.SourceFile})
			continue
		}
		seen[e.ID]++
		if seen[e.ID] == 2 {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeDuplicateID, Message: "entity id declared more than once", ID: e.ID, SourceFile: e.SourceFile})
		}
		if strings.TrimSpace(e.Name) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeMissingName, Message: "entity has no name", ID: e.ID, SourceFile: e.SourceFile})
		}
		if e.Kind == KindCharacter && strings.TrimSpace(e.Persona) == "" {
			issues = append(issues, Issue{Severity: SeverityWarn, Code: codeMissingPersona, Message: "character has no persona", ID: e.ID, SourceFile: e.SourceFile})
		}
	}

	communitySeen := make(map[string]int)
	connected := make(map[string]struct{})
	for _, c := range s.Communities {
		if strings.TrimSpace(c.ID) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeMissingID, Message: "community has no id"})
			continue
		}
		communitySeen[c.ID]++
		if communitySeen[c.ID] == 2 {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeDuplicateID, Message: "community id declared more than once", ID: c.ID})
		}
		if _, ok := s.entityIndex[c.ID]; ok && communitySeen[c.ID] == 1 {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeIDCollision, Message: "community id collides with an entity id", ID: c.ID})
		}
		if _, unknown := s.unknownLabels[c.ID]; unknown {
			issues = append(issues, Issue{Severity: SeverityWarn, Code: codeUnknownCommunity, Message: fmt.Sprintf("community type %q not in schema, classified as %s", c.Type, c.Kind), ID: c.ID})
		}
		if len(c.MemberIDs) == 0 {
			issues = append(issues, Issue{Severity: SeverityWarn, Code: codeEmptyCommunity, Message: "community has no members", ID: c.ID})
		}
		for _, member := range c.MemberIDs {
			if _, ok := s.entityIndex[member]; !ok {
				issues = append(issues, Issue{Severity: SeverityError, Code: codeUnknownMember, Message: fmt.Sprintf("member %q does not exist", member), ID: c.ID})
				continue
			}
			connected[member] = struct{}{}
		}
	}

	for _, rel := range s.Relationships {
		for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
			if _, ok := s.entityIndex[endpoint]; !ok {
				issues = append(issues, Issue{Severity: SeverityError, Code: codeDanglingEndpoint, Message: fmt.Sprintf("relationship %s -> %s references missing entity %q", rel.SourceID, rel.TargetID, endpoint), ID: endpoint})
			}
		}
		if rel.Strength < 0 || rel.Strength > 1 {
			issues = append(issues, Issue{Severity: SeverityWarn, Code: codeStrengthRange, Message: fmt.Sprintf("relationship %s -> %s strength %.2f outside [0,1]", rel.SourceID, rel.TargetID, rel.Strength), ID: rel.SourceID})
		}
		connected[rel.SourceID] = struct{}{}
		connected[rel.TargetID] = struct{}{}
	}

	for _, e := range s.Entities {
		if e.ID == "" {
			continue
		}
		if _, ok := connected[e.ID]; !ok {
			issues = append(issues, Issue{Severity: SeverityWarn, Code: codeOrphanedEntity, Message: "entity has no relationships or community", ID: e.ID, SourceFile: e.SourceFile})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity == SeverityError
		}
		return issues[i].ID < issues[j].ID
	})

	return &Report{Issues: issues}
}
