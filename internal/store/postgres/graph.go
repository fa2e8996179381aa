package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rolecraft/internal/graph"
	"rolecraft/internal/store"
)

func (c *Client) ResetGraph(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, "TRUNCATE relationships, communities, entities, sources")
	if err != nil {
		return fmt.Errorf("resetting graph: %w", err)
	}
	return nil
}

func (c *Client) UpsertEntity(ctx context.Context, e graph.Entity) error {
	exemplars := e.StyleExemplars
	if exemplars == nil {
		exemplars = []string{}
	}

	query := `
INSERT INTO entities (id, name, entity_type, persona, style_description, style_exemplars, description, source_file, search_vector, last_ingested)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
    setweight(to_tsvector('simple', coalesce($2, '')), 'A') ||
    setweight(to_tsvector('simple', coalesce($9, '')), 'B'),
    now()
)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    entity_type = EXCLUDED.entity_type,
    persona = EXCLUDED.persona,
    style_description = EXCLUDED.style_description,
    style_exemplars = EXCLUDED.style_exemplars,
    description = EXCLUDED.description,
    source_file = EXCLUDED.source_file,
    search_vector = EXCLUDED.search_vector,
    last_ingested = now()
`
	_, err := c.pool.Exec(ctx, query,
		e.ID,
		e.Name,
		e.Type,
		e.Persona,
		e.StyleDescription,
		exemplars,
		e.Description,
		e.SourceFile,
		store.SearchTerms(e),
	)
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", e.ID, err)
	}
	return nil
}

func (c *Client) UpsertRelationship(ctx context.Context, r graph.Relationship) error {
	query := `
INSERT INTO relationships (source_id, target_id, description, attitude, strength)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (source_id, target_id, description) DO UPDATE SET
    attitude = EXCLUDED.attitude,
    strength = EXCLUDED.strength
`
	if _, err := c.pool.Exec(ctx, query, r.SourceID, r.TargetID, r.Description, r.Attitude, r.Strength); err != nil {
		return fmt.Errorf("upserting relationship %s -> %s: %w", r.SourceID, r.TargetID, err)
	}
	return nil
}

func (c *Client) UpsertCommunity(ctx context.Context, cm graph.Community) error {
	members := cm.MemberIDs
	if members == nil {
		members = []string{}
	}
	query := `
INSERT INTO communities (id, community_type, summary, member_ids)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    community_type = EXCLUDED.community_type,
    summary = EXCLUDED.summary,
    member_ids = EXCLUDED.member_ids
`
	if _, err := c.pool.Exec(ctx, query, cm.ID, cm.Type, cm.Summary, members); err != nil {
		return fmt.Errorf("upserting community %s: %w", cm.ID, err)
	}
	return nil
}

func (c *Client) RecordSources(ctx context.Context, hashes map[string]string) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM sources"); err != nil {
		return fmt.Errorf("clearing sources: %w", err)
	}
	batch := &pgx.Batch{}
	for path, hash := range hashes {
		batch.Queue("INSERT INTO sources (path, hash) VALUES ($1, $2)", path, hash)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("recording sources: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing sources: %w", err)
	}
	return nil
}

func (c *Client) SourceHashes(ctx context.Context) (map[string]string, error) {
	rows, err := c.pool.Query(ctx, "SELECT path, hash FROM sources")
	if err != nil {
		return nil, fmt.Errorf("query source hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("scanning source hash: %w", err)
		}
		hashes[path] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source hashes: %w", err)
	}
	return hashes, nil
}

func (c *Client) LoadDocument(ctx context.Context) (*graph.Document, error) {
	doc := &graph.Document{Version: 1}

	rows, err := c.pool.Query(ctx, `
SELECT id, name, entity_type, persona, style_description, style_exemplars, description, source_file
FROM entities
ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	for rows.Next() {
		var e graph.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Persona, &e.StyleDescription, &e.StyleExemplars, &e.Description, &e.SourceFile); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		if len(e.StyleExemplars) == 0 {
			e.StyleExemplars = nil
		}
		doc.Entities = append(doc.Entities, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}

	rows, err = c.pool.Query(ctx, "SELECT source_id, target_id, description, attitude, strength FROM relationships ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	for rows.Next() {
		var r graph.Relationship
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Description, &r.Attitude, &r.Strength); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		doc.Relationships = append(doc.Relationships, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}

	rows, err = c.pool.Query(ctx, "SELECT id, community_type, summary, member_ids FROM communities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("loading communities: %w", err)
	}
	for rows.Next() {
		var cm graph.Community
		if err := rows.Scan(&cm.ID, &cm.Type, &cm.Summary, &cm.MemberIDs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning community: %w", err)
		}
		doc.Communities = append(doc.Communities, cm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating communities: %w", err)
	}

	return doc, nil
}
