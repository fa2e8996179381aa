package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"rolecraft/internal/memory"
)

const nextIndexKey = "next_index"

func (c *Client) LoadMemory(ctx context.Context) (*memory.State, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT payload FROM memory_turns ORDER BY turn_index")
	if err != nil {
		return nil, fmt.Errorf("loading memory turns: %w", err)
	}
	defer rows.Close()

	var raws []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning memory turn: %w", err)
		}
		raws = append(raws, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory turns: %w", err)
	}

	var next int
	err = c.db.QueryRowContext(ctx, "SELECT value FROM memory_meta WHERE key = ?", nextIndexKey).Scan(&next)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading memory next index: %w", err)
	}

	turns, _ := memory.DecodeTurns(raws)
	return &memory.State{Version: memory.StateVersion, NextIndex: next, Turns: turns}, nil
}

func (c *Client) SaveMemory(ctx context.Context, state *memory.State) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_turns"); err != nil {
		return fmt.Errorf("clearing memory turns: %w", err)
	}
	for _, turn := range state.Turns {
		payload, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("encoding turn %d: %w", turn.Index, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO memory_turns (turn_index, payload) VALUES (?, ?)", turn.Index, string(payload)); err != nil {
			return fmt.Errorf("saving turn %d: %w", turn.Index, err)
		}
	}

	query := `
	INSERT INTO memory_meta (key, value) VALUES (?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`
	if _, err := tx.ExecContext(ctx, query, nextIndexKey, state.NextIndex); err != nil {
		return fmt.Errorf("saving memory next index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing memory: %w", err)
	}
	return nil
}

func (c *Client) ResetMemory(ctx context.Context) error {
	return c.SaveMemory(ctx, &memory.State{Version: memory.StateVersion})
}
