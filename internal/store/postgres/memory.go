package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rolecraft/internal/memory"
)

const nextIndexKey = "next_index"

func (c *Client) LoadMemory(ctx context.Context) (*memory.State, error) {
	rows, err := c.pool.Query(ctx, "SELECT payload FROM memory_turns ORDER BY turn_index")
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
	err = c.pool.QueryRow(ctx, "SELECT value FROM memory_meta WHERE key = $1", nextIndexKey).Scan(&next)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loading memory next index: %w", err)
	}

	turns, _ := memory.DecodeTurns(raws)
	return &memory.State{Version: memory.StateVersion, NextIndex: next, Turns: turns}, nil
}

func (c *Client) SaveMemory(ctx context.Context, state *memory.State) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue("DELETE FROM memory_turns")
	for _, turn := range state.Turns {
		payload, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("encoding turn %d: %w", turn.Index, err)
		}
		batch.Queue("INSERT INTO memory_turns (turn_index, payload) VALUES ($1, $2)", turn.Index, payload)
	}
	batch.Queue(`
INSERT INTO memory_meta (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`, nextIndexKey, state.NextIndex)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing memory: %w", err)
	}
	return nil
}

func (c *Client) ResetMemory(ctx context.Context) error {
	return c.SaveMemory(ctx, &memory.State{Version: memory.StateVersion})
}
