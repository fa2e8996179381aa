package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"rolecraft/internal/config"
	"rolecraft/internal/graph"
	"rolecraft/internal/index"
	"rolecraft/internal/memory"
	"rolecraft/internal/retrieval"
)

const DefaultMinScore = 0.15

// HeuristicDecomposer routes a question by the entity names it mentions and
// the schema keywords it contains.
type HeuristicDecomposer struct {
	Schema *config.Schema
}

var _ retrieval.Decomposer = (*HeuristicDecomposer)(nil)

func (d *HeuristicDecomposer) Decompose(ctx context.Context, req retrieval.DecomposeRequest) ([]retrieval.SubQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	schema := schemaOrDefault(d.Schema)

	remaining := req.Query
	characters, remaining := extractNames(remaining, req.Hint.Characters)
	others, remaining := extractNames(remaining, req.Hint.Others)

	if len(characters) == 0 && len(others) == 0 && hasAnyMarker(req.Query, schema.Anaphora) {
		for i := len(req.Context) - 1; i >= 0 && len(characters) == 0; i-- {
			characters, _ = extractNames(req.Context[i], req.Hint.Characters)
		}
	}
	for _, marker := range schema.Anaphora {
		if containsHan(marker) {
			remaining = strings.ReplaceAll(remaining, marker, " ")
		}
	}
	aspect := cleanAspect(remaining)

	var subs []retrieval.SubQuery
	add := func(text string, kind graph.Kind, priority retrieval.Priority) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		q := retrieval.SubQuery{Text: text, Kind: kind, Priority: priority}
		for _, existing := range subs {
			if retrieval.CacheKey(existing) == retrieval.CacheKey(q) {
				return
			}
		}
		subs = append(subs, q)
	}

	for _, name := range characters {
		add(joinAspect(name, aspect), graph.KindCharacter, retrieval.PriorityNamed)
	}

	relational := hasAnyMarker(req.Query, schema.RelationalKeywords)
	eventual := hasAnyMarker(req.Query, schema.Keywords(config.KindEvent))

	if relational && len(characters)+len(others) > 1 {
		names := append(append([]string(nil), characters...), others...)
		add(joinAspect(strings.Join(names, " "), aspect), graph.KindEvent, retrieval.PriorityRelational)
	}
	for _, name := range others {
		add(joinAspect(name, aspect), graph.KindEvent, retrieval.PriorityRelational)
	}
	if eventual {
		priority := retrieval.PriorityBackground
		if len(characters) > 0 {
			priority = retrieval.PriorityRelational
		}
		subject := strings.Join(characters, " ")
		add(joinAspect(subject, aspect), graph.KindEvent, priority)
	}

	if len(subs) == 0 {
		add(req.Query, graph.KindCharacter, retrieval.PriorityBackground)
		add(req.Query, graph.KindEvent, retrieval.PriorityBackground)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("decomposing %q: no content", req.Query)
	}
	return subs, nil
}

// extractNames finds names in text, longest first, blanking each match so a
// shorter name inside a longer one is not matched twice. Names come back in
// the order they appear in text.
func extractNames(text string, names []string) ([]string, string) {
	type match struct {
		name string
		pos  int
	}
	var matches []match
	for _, name := range longestFirst(names) {
		pos := strings.Index(text, name)
		if name == "" || pos < 0 {
			continue
		}
		matches = append(matches, match{name: name, pos: pos})
		text = strings.ReplaceAll(text, name, strings.Repeat(" ", len(name)))
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	found := make([]string, 0, len(matches))
	for _, m := range matches {
		found = append(found, m.name)
	}
	return found, text
}

func longestFirst(names []string) []string {
	sorted := append([]string(nil), names...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len([]rune(sorted[j])) > len([]rune(sorted[j-1])); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}

var connectives = map[string]struct{}{
	"的": {}, "和": {}, "与": {}, "跟": {}, "and": {}, "of": {},
}

func cleanAspect(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	kept := fields[:0]
	for _, f := range fields {
		if _, skip := connectives[strings.ToLower(f)]; skip {
			continue
		}
		if f = strings.TrimPrefix(f, "的"); f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func joinAspect(subject, aspect string) string {
	switch {
	case subject == "":
		return aspect
	case aspect == "":
		return subject
	default:
		return subject + " " + aspect
	}
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// hasAnyMarker matches Han markers as substrings and other markers as whole
// tokens, so "he" does not match inside "the".
func hasAnyMarker(text string, markers []string) bool {
	var tokens map[string]struct{}
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if containsHan(marker) {
			if strings.Contains(text, marker) {
				return true
			}
			continue
		}
		if tokens == nil {
			tokens = make(map[string]struct{})
			for _, tok := range index.Tokenize(text) {
				tokens[tok] = struct{}{}
			}
		}
		if _, ok := tokens[strings.ToLower(marker)]; ok {
			return true
		}
	}
	return false
}

// LexicalJudge is satisfied once some chunk matches with at least MinScore.
// Otherwise it proposes the issued sub-queries again under the other kind,
// then the raw user query.
type LexicalJudge struct {
	MinScore float64
}

var _ retrieval.Judge = (*LexicalJudge)(nil)

func (j *LexicalJudge) Judge(ctx context.Context, req retrieval.JudgeRequest) (retrieval.Judgment, error) {
	if err := ctx.Err(); err != nil {
		return retrieval.Judgment{}, err
	}
	minScore := j.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	for _, c := range req.Chunks {
		if c.Score >= minScore {
			return retrieval.Judgment{Sufficient: true}, nil
		}
	}

	issued := make(map[string]struct{})
	for _, q := range req.Issued {
		issued[retrieval.CacheKey(q)] = struct{}{}
	}
	var followUps []retrieval.SubQuery
	propose := func(q retrieval.SubQuery) {
		key := retrieval.CacheKey(q)
		if _, done := issued[key]; done {
			return
		}
		issued[key] = struct{}{}
		followUps = append(followUps, q)
	}
	for _, q := range req.Issued {
		other := graph.KindEvent
		if q.Kind == graph.KindEvent {
			other = graph.KindCharacter
		}
		propose(retrieval.SubQuery{Text: q.Text, Kind: other, Priority: retrieval.PriorityBackground})
	}
	for _, kind := range graph.Kinds {
		propose(retrieval.SubQuery{Text: req.Query, Kind: kind, Priority: retrieval.PriorityBackground})
	}

	return retrieval.Judgment{
		Sufficient: false,
		Missing:    fmt.Sprintf("no chunk scored at least %.2f for %q", minScore, req.Query),
		FollowUps:  followUps,
	}, nil
}

// NameCallbackDetector links a query to earlier turns that mention the same
// entity names, and falls back to the latest turn when the query opens with
// an unresolved reference such as 她 or "that".
type NameCallbackDetector struct {
	Schema *config.Schema
	Names  []string
}

var _ memory.CallbackDetector = (*NameCallbackDetector)(nil)

func (d *NameCallbackDetector) DetectCallback(ctx context.Context, query string, history []memory.Turn) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	schema := schemaOrDefault(d.Schema)

	mentioned, _ := extractNames(query, d.Names)
	var related []int
	for _, turn := range history {
		text := turn.UserQuery
		for _, q := range turn.SubQueries {
			text += "\n" + q.Text
		}
		for _, name := range mentioned {
			if strings.Contains(text, name) {
				related = append(related, turn.Index)
				break
			}
		}
	}

	if len(related) == 0 && hasAnyMarker(query, schema.Anaphora) {
		related = append(related, history[len(history)-1].Index)
	}
	return related, nil
}

// TemplateSummarizer builds a digest from the turn itself without any model.
type TemplateSummarizer struct {
	MaxChunks int
}

var _ memory.Summarizer = (*TemplateSummarizer)(nil)

func (s *TemplateSummarizer) Summarize(ctx context.Context, turn memory.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	maxChunks := s.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 3
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Q: %s", turn.UserQuery)
	if len(turn.SubQueries) > 0 {
		texts := make([]string, 0, len(turn.SubQueries))
		for _, q := range turn.SubQueries {
			texts = append(texts, q.Text)
		}
		fmt.Fprintf(&b, " | looked up: %s", strings.Join(texts, "; "))
	}
	if n := len(turn.RetrievedChunks); n > 0 {
		if n > maxChunks {
			n = maxChunks
		}
		heads := make([]string, 0, n)
		for _, c := range turn.RetrievedChunks[:n] {
			heads = append(heads, firstLine(c.Text))
		}
		fmt.Fprintf(&b, " | found: %s", strings.Join(heads, "; "))
	}
	return b.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func schemaOrDefault(s *config.Schema) *config.Schema {
	if s == nil {
		return config.DefaultSchema()
	}
	return s
}
