package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"rolecraft/internal/graph"
)

func TestSearchTerms(t *testing.T) {
	terms := SearchTerms(graph.Entity{
		Name:           "七七",
		Persona:        "Zombie",
		StyleExemplars: []string{"忘了"},
	})
	fields := strings.Fields(terms)
	assert.Contains(t, fields, "七七")
	assert.Contains(t, fields, "zombie")
	assert.Contains(t, fields, "忘了")
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"七", "七七"}, QueryTerms("七七"))
	assert.Empty(t, QueryTerms("？！"))
}

func TestHasOperators(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{query: "zombie girl", want: false},
		{query: `"red dragon"`, want: true},
		{query: "dragon -fire", want: true},
		{query: "dragon OR sword", want: true},
		{query: "dragon or sword", want: false},
		{query: "七七 - 胡桃", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, HasOperators(tt.query))
		})
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "璃月的殡葬机构", Snippet(graph.Entity{Description: "璃月的殡葬机构", Persona: "x"}))
	assert.Equal(t, "僵尸", Snippet(graph.Entity{Persona: " 僵尸 "}))

	long := Snippet(graph.Entity{Description: strings.Repeat("长", 200)})
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Equal(t, snippetRunes+3, len([]rune(long)))
}
