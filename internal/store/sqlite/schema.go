package sqlite

import (
	"context"
	"fmt"
	"strings"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS entities (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		entity_type       TEXT NOT NULL,
		persona           TEXT DEFAULT '',
		style_description TEXT DEFAULT '',
		style_exemplars   TEXT DEFAULT '[]',
		description       TEXT DEFAULT '',
		source_file       TEXT DEFAULT '',
		last_ingested     TEXT DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS relationships (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id   TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		target_id   TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		description TEXT NOT NULL DEFAULT '',
		attitude    TEXT DEFAULT '',
		strength    REAL DEFAULT 0,
		CONSTRAINT uq_relationship UNIQUE (source_id, target_id, description)
	);

	CREATE TABLE IF NOT EXISTS communities (
		id             TEXT PRIMARY KEY,
		community_type TEXT NOT NULL,
		summary        TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS community_members (
		community_id TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
		entity_id    TEXT NOT NULL,
		position     INTEGER NOT NULL,
		PRIMARY KEY (community_id, entity_id)
	);

	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_turns (
		turn_index INTEGER PRIMARY KEY,
		payload    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities (entity_type);
	CREATE INDEX IF NOT EXISTS idx_entities_source_file ON entities (source_file);
	CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships (source_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships (target_id);
	CREATE INDEX IF NOT EXISTS idx_community_members_entity ON community_members (entity_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
		entity_id UNINDEXED,
		name,
		terms
	);
	`

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	statements := splitStatements(ddl)
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

func splitStatements(ddl string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(ddl, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(stripped, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		statements = append(statements, current.String())
	}

	return statements
}
