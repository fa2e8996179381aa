package store

import (
	"sort"
	"strings"

	"rolecraft/internal/graph"
	"rolecraft/internal/index"
)

const DefaultSearchLimit = 20

const snippetRunes = 120

type SearchResult struct {
	ID         string
	Name       string
	EntityType string
	Score      float64
	Snippet    string
}

// SearchTerms is the full-text column for an entity: the index tokens joined
// by spaces, so the database tokenizer sees the same Han unigrams and bigrams
// as the lexical index.
func SearchTerms(e graph.Entity) string {
	parts := []string{e.Name, e.Persona, e.StyleDescription, e.Description}
	parts = append(parts, e.StyleExemplars...)
	return strings.Join(index.Tokenize(strings.Join(parts, "\n")), " ")
}

// QueryTerms returns the distinct index tokens of a search query, sorted.
func QueryTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range index.Tokenize(query) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}
	sort.Strings(terms)
	return terms
}

// HasOperators reports whether query uses websearch syntax: quotes, a
// leading minus or an explicit boolean operator.
func HasOperators(query string) bool {
	if strings.Contains(query, `"`) {
		return true
	}
	for _, field := range strings.Fields(query) {
		switch {
		case field == "AND", field == "OR", field == "NOT":
			return true
		case strings.HasPrefix(field, "-") && len(field) > 1:
			return true
		}
	}
	return false
}

func Snippet(e graph.Entity) string {
	text := e.Description
	if text == "" {
		text = e.Persona
	}
	if text == "" {
		text = e.StyleDescription
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > snippetRunes {
		return string(runes[:snippetRunes]) + "..."
	}
	return string(runes)
}
