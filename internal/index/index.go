package index

import (
	"fmt"
	"math"
	"sort"

	"rolecraft/internal/graph"
)

type Granularity int

const (
	GranularityEntity Granularity = iota
	GranularityCommunity
)

var Granularities = []Granularity{GranularityEntity, GranularityCommunity}

func (g Granularity) String() string {
	switch g {
	case GranularityEntity:
		return "entity"
	case GranularityCommunity:
		return "community"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Granularity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "entity":
		*g = GranularityEntity
	case "community":
		*g = GranularityCommunity
	default:
		return fmt.Errorf("unknown granularity: %q", text)
	}
	return nil
}

type Item struct {
	ID          string
	Text        string
	Kind        graph.Kind
	Granularity Granularity
}

type Hit struct {
	ID    string
	Score float64
}

type partitionKey struct {
	kind        graph.Kind
	granularity Granularity
}

type partition struct {
	ids     []string
	vectors []map[string]float64
	idf     map[string]float64
}

// Index holds one TF-IDF model per (kind, granularity) pair. It is immutable
// after Build and safe for concurrent queries.
type Index struct {
	partitions map[partitionKey]*partition
}

func Build(items []Item) *Index {
	grouped := make(map[partitionKey][]Item)
	seen := make(map[partitionKey]map[string]struct{})
	for _, item := range items {
		key := partitionKey{kind: item.Kind, granularity: item.Granularity}
		if seen[key] == nil {
			seen[key] = make(map[string]struct{})
		}
		if _, dup := seen[key][item.ID]; dup {
			continue
		}
		seen[key][item.ID] = struct{}{}
		grouped[key] = append(grouped[key], item)
	}

	ix := &Index{partitions: make(map[partitionKey]*partition)}
	for key, group := range grouped {
		ix.partitions[key] = buildPartition(group)
	}
	return ix
}

func BuildFromSnapshot(s *graph.Snapshot) *Index {
	if s == nil {
		return Build(nil)
	}
	items := make([]Item, 0, len(s.Entities)+len(s.Communities))
	for _, e := range s.Entities {
		items = append(items, Item{ID: e.ID, Text: s.IndexText(e), Kind: e.Kind, Granularity: GranularityEntity})
	}
	for _, c := range s.Communities {
		items = append(items, Item{ID: c.ID, Text: s.CommunityIndexText(c), Kind: c.Kind, Granularity: GranularityCommunity})
	}
	return Build(items)
}

func buildPartition(items []Item) *partition {
	p := &partition{
		ids:     make([]string, len(items)),
		vectors: make([]map[string]float64, len(items)),
		idf:     make(map[string]float64),
	}

	counts := make([]map[string]float64, len(items))
	df := make(map[string]int)
	for i, item := range items {
		p.ids[i] = item.ID
		counts[i] = termCounts(Tokenize(item.Text))
		for term := range counts[i] {
			df[term]++
		}
	}

	n := float64(len(items))
	for term, d := range df {
		p.idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}

	for i := range items {
		p.vectors[i] = p.weigh(counts[i])
	}
	return p
}

func termCounts(tokens []string) map[string]float64 {
	counts := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	return counts
}

// weigh turns raw counts into an L2-normalized TF-IDF vector, dropping terms
// outside the partition vocabulary.
func (p *partition) weigh(counts map[string]float64) map[string]float64 {
	vec := make(map[string]float64, len(counts))
	var norm float64
	for _, term := range sortedTerms(counts) {
		tf := counts[term]
		idf, ok := p.idf[term]
		if !ok {
			continue
		}
		w := tf * idf
		vec[term] = w
		norm += w * w
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for term := range vec {
		vec[term] /= norm
	}
	return vec
}

// Query ranks one partition against text. Results are ordered by score
// descending, then by ascending id; only positive scores are returned and
// k <= 0 returns every match.
func (ix *Index) Query(text string, kind graph.Kind, granularity Granularity, k int) []Hit {
	if ix == nil {
		return nil
	}
	p, ok := ix.partitions[partitionKey{kind: kind, granularity: granularity}]
	if !ok || len(p.ids) == 0 {
		return []Hit{}
	}

	query := p.weigh(termCounts(Tokenize(text)))
	if len(query) == 0 {
		return []Hit{}
	}

	terms := sortedTerms(query)
	hits := make([]Hit, 0)
	for i, doc := range p.vectors {
		var score float64
		for _, term := range terms {
			score += query[term] * doc[term]
		}
		if score > 0 {
			hits = append(hits, Hit{ID: p.ids[i], Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// sortedTerms fixes summation order so scores are bit-for-bit reproducible.
func sortedTerms(vec map[string]float64) []string {
	terms := make([]string, 0, len(vec))
	for term := range vec {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func (ix *Index) Size(kind graph.Kind, granularity Granularity) int {
	if ix == nil {
		return 0
	}
	p, ok := ix.partitions[partitionKey{kind: kind, granularity: granularity}]
	if !ok {
		return 0
	}
	return len(p.ids)
}

func (ix *Index) Empty() bool {
	if ix == nil {
		return true
	}
	for _, p := range ix.partitions {
		if len(p.ids) > 0 {
			return false
		}
	}
	return true
}
