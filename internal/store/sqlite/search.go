package sqlite

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

	match := matchExpression(query)
	if match == "" {
		return []store.SearchResult{}, nil
	}

	sqlQuery := `
	SELECT e.id, e.name, e.entity_type, e.persona, e.style_description, e.description,
		   bm25(entities_fts, 0.0, 10.0, 1.0) AS rank
	FROM entities_fts
	JOIN entities e ON entities_fts.entity_id = e.id
	WHERE entities_fts MATCH ?
	  AND (? = '' OR e.entity_type = ?)
	ORDER BY rank ASC, e.id ASC
	LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, sqlQuery, match, entityType, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}
	defer rows.Close()

	results := []store.SearchResult{}
	for rows.Next() {
		var e graph.Entity
		var rank float64
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Persona, &e.StyleDescription, &e.Description, &rank); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, store.SearchResult{
			ID:         e.ID,
			Name:       e.Name,
			EntityType: e.Type,
			Score:      -rank,
			Snippet:    store.Snippet(e),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	return results, nil
}

// matchExpression turns a user query into an FTS5 MATCH expression. Plain
// queries match any of their index tokens; websearch syntax is translated.
func matchExpression(query string) string {
	if store.HasOperators(query) {
		return convertWebsearchToFTS5(query)
	}
	terms := store.QueryTerms(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func convertWebsearchToFTS5(query string) string {
	var result strings.Builder
	var inQuote bool
	var current strings.Builder

	flushToken := func() {
		token := current.String()
		current.Reset()
		if token == "" {
			return
		}

		upper := strings.ToUpper(token)
		switch upper {
		case "AND", "OR", "NOT":
			if result.Len() > 0 {
				result.WriteString(" ")
			}
			result.WriteString(upper)
			return
		}

		if result.Len() > 0 {
			lastWord := lastWord(result.String())
			if lastWord != "AND" && lastWord != "OR" && lastWord != "NOT" && lastWord != "" {
				result.WriteString(" AND ")
			} else {
				result.WriteString(" ")
			}
		}

		if strings.HasPrefix(token, "-") && len(token) > 1 {
			result.WriteString("NOT ")
			result.WriteString(token[1:])
		} else {
			result.WriteString(token)
		}
	}

	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '"':
			if inQuote {
				inQuote = false
				token := current.String()
				current.Reset()
				if token != "" {
					if result.Len() > 0 {
						result.WriteString(" AND ")
					}
					result.WriteString(`"`)
					result.WriteString(token)
					result.WriteString(`"`)
				}
			} else {
				flushToken()
				inQuote = true
			}
		case inQuote:
			current.WriteByte(ch)
		case ch == ' ' || ch == '\t':
			flushToken()
		default:
			current.WriteByte(ch)
		}
	}

	flushToken()

	return result.String()
}

func lastWord(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	return words[len(words)-1]
}
