package postgres

import (
	"context"
	"fmt"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS entities (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    entity_type       TEXT NOT NULL,
    persona           TEXT DEFAULT '',
    style_description TEXT DEFAULT '',
    style_exemplars   TEXT[] DEFAULT '{}',
    description       TEXT DEFAULT '',
    source_file       TEXT DEFAULT '',
    search_vector     TSVECTOR,
    last_ingested     TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS relationships (
    id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    source_id   TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_id   TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    description TEXT NOT NULL DEFAULT '',
    attitude    TEXT DEFAULT '',
    strength    DOUBLE PRECISION DEFAULT 0,
    CONSTRAINT uq_relationship UNIQUE (source_id, target_id, description)
);

CREATE TABLE IF NOT EXISTS communities (
    id             TEXT PRIMARY KEY,
    community_type TEXT NOT NULL,
    summary        TEXT DEFAULT '',
    member_ids     TEXT[] DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS sources (
    path TEXT PRIMARY KEY,
    hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_turns (
    turn_index INTEGER PRIMARY KEY,
    payload    JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_meta (
    key   TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_search ON entities USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities (entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_source_file ON entities (source_file);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships (source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships (target_id);
CREATE INDEX IF NOT EXISTS idx_communities_members ON communities USING GIN (member_ids);
`
	_, err := c.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
