package postgres

import (
	"context"
	"fmt"
	"strings"

	"rolecraft/internal/graph"
	"rolecraft/internal/store"
)

func (c *Client) Search(ctx context.Context, query, entityType string, limit int) ([]store.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}

	tsQuery := "websearch_to_tsquery('simple', $1)"
	arg := query
	if !store.HasOperators(query) {
		terms := store.QueryTerms(query)
		if len(terms) == 0 {
			return []store.SearchResult{}, nil
		}
		tsQuery = "to_tsquery('simple', $1)"
		arg = strings.Join(terms, " | ")
	}

	sql := fmt.Sprintf(`
SELECT id, name, entity_type, persona, style_description, description,
    ts_rank(search_vector, %[1]s) AS score
FROM entities
WHERE search_vector @@ %[1]s
  AND ($2 = '' OR entity_type = $2)
ORDER BY score DESC, id ASC
LIMIT $3
`, tsQuery)

	rows, err := c.pool.Query(ctx, sql, arg, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}
	defer rows.Close()

	results := []store.SearchResult{}
	for rows.Next() {
		var e graph.Entity
		var score float64
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Persona, &e.StyleDescription, &e.Description, &score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, store.SearchResult{
			ID:         e.ID,
			Name:       e.Name,
			EntityType: e.Type,
			Score:      score,
			Snippet:    store.Snippet(e),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	return results, nil
}
