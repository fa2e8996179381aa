package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"rolecraft/internal/graph"
	"rolecraft/internal/store"
)

func (c *Client) ResetGraph(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"community_members", "communities", "relationships", "entities", "entities_fts", "sources"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}
	return nil
}

func (c *Client) UpsertEntity(ctx context.Context, e graph.Entity) error {
	exemplarsJSON, err := json.Marshal(e.StyleExemplars)
	if err != nil {
		return fmt.Errorf("marshaling style exemplars: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO entities (id, name, entity_type, persona, style_description, style_exemplars, description, source_file, last_ingested)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		entity_type = excluded.entity_type,
		persona = excluded.persona,
		style_description = excluded.style_description,
		style_exemplars = excluded.style_exemplars,
		description = excluded.description,
		source_file = excluded.source_file,
		last_ingested = datetime('now')
	`
	_, err = tx.ExecContext(ctx, query,
		e.ID,
		e.Name,
		e.Type,
		e.Persona,
		e.StyleDescription,
		exemplarsJSON,
		e.Description,
		e.SourceFile,
	)
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", e.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM entities_fts WHERE entity_id = ?", e.ID); err != nil {
		return fmt.Errorf("clearing search terms for %s: %w", e.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entities_fts (entity_id, name, terms) VALUES (?, ?, ?)",
		e.ID, e.Name, store.SearchTerms(e),
	); err != nil {
		return fmt.Errorf("indexing entity %s: %w", e.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entity %s: %w", e.ID, err)
	}
	return nil
}

func (c *Client) UpsertRelationship(ctx context.Context, r graph.Relationship) error {
	query := `
	INSERT INTO relationships (source_id, target_id, description, attitude, strength)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (source_id, target_id, description) DO UPDATE SET
		attitude = excluded.attitude,
		strength = excluded.strength
	`
	if _, err := c.db.ExecContext(ctx, query, r.SourceID, r.TargetID, r.Description, r.Attitude, r.Strength); err != nil {
		return fmt.Errorf("upserting relationship %s -> %s: %w", r.SourceID, r.TargetID, err)
	}
	return nil
}

func (c *Client) UpsertCommunity(ctx context.Context, cm graph.Community) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO communities (id, community_type, summary)
	VALUES (?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		community_type = excluded.community_type,
		summary = excluded.summary
	`
	if _, err := tx.ExecContext(ctx, query, cm.ID, cm.Type, cm.Summary); err != nil {
		return fmt.Errorf("upserting community %s: %w", cm.ID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM community_members WHERE community_id = ?", cm.ID); err != nil {
		return fmt.Errorf("clearing members of %s: %w", cm.ID, err)
	}
	for i, member := range cm.MemberIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO community_members (community_id, entity_id, position) VALUES (?, ?, ?)",
			cm.ID, member, i,
		); err != nil {
			return fmt.Errorf("adding member %s to %s: %w", member, cm.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing community %s: %w", cm.ID, err)
	}
	return nil
}

func (c *Client) RecordSources(ctx context.Context, hashes map[string]string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sources"); err != nil {
		return fmt.Errorf("clearing sources: %w", err)
	}
	for path, hash := range hashes {
		if _, err := tx.ExecContext(ctx, "INSERT INTO sources (path, hash) VALUES (?, ?)", path, hash); err != nil {
			return fmt.Errorf("recording source %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sources: %w", err)
	}
	return nil
}

func (c *Client) SourceHashes(ctx context.Context) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT path, hash FROM sources")
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

	entities, err := c.loadEntities(ctx)
	if err != nil {
		return nil, err
	}
	doc.Entities = entities

	relationships, err := c.loadRelationships(ctx)
	if err != nil {
		return nil, err
	}
	doc.Relationships = relationships

	communities, err := c.loadCommunities(ctx)
	if err != nil {
		return nil, err
	}
	doc.Communities = communities

	return doc, nil
}

func (c *Client) loadEntities(ctx context.Context) ([]graph.Entity, error) {
	query := `
	SELECT id, name, entity_type, persona, style_description, style_exemplars, description, source_file
	FROM entities
	ORDER BY id
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	defer rows.Close()

	var entities []graph.Entity
	for rows.Next() {
		var e graph.Entity
		var exemplars []byte
		var sourceFile sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Persona, &e.StyleDescription, &exemplars, &e.Description, &sourceFile); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		if len(exemplars) > 0 {
			if err := json.Unmarshal(exemplars, &e.StyleExemplars); err != nil {
				return nil, fmt.Errorf("unmarshaling style exemplars of %s: %w", e.ID, err)
			}
		}
		e.SourceFile = sourceFile.String
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

func (c *Client) loadRelationships(ctx context.Context) ([]graph.Relationship, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT source_id, target_id, description, attitude, strength FROM relationships ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	defer rows.Close()

	var relationships []graph.Relationship
	for rows.Next() {
		var r graph.Relationship
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Description, &r.Attitude, &r.Strength); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		relationships = append(relationships, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}
	return relationships, nil
}

func (c *Client) loadCommunities(ctx context.Context) ([]graph.Community, error) {
	query := `
	SELECT c.id, c.community_type, c.summary, m.entity_id
	FROM communities c
	LEFT JOIN community_members m ON m.community_id = c.id
	ORDER BY c.id, m.position
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading communities: %w", err)
	}
	defer rows.Close()

	var communities []graph.Community
	for rows.Next() {
		var id, communityType, summary string
		var member sql.NullString
		if err := rows.Scan(&id, &communityType, &summary, &member); err != nil {
			return nil, fmt.Errorf("scanning community: %w", err)
		}
		if n := len(communities); n == 0 || communities[n-1].ID != id {
			communities = append(communities, graph.Community{ID: id, Type: communityType, Summary: summary})
		}
		if member.Valid {
			last := &communities[len(communities)-1]
			last.MemberIDs = append(last.MemberIDs, member.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating communities: %w", err)
	}
	return communities, nil
}
