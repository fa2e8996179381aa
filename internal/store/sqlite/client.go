package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"rolecraft/internal/store"

	_ "modernc.org/sqlite"
)

var _ store.Store = (*Client)(nil)

type Client struct {
	db *sql.DB
}

func New(ctx context.Context, dsn string) (*Client, error) {
	loc, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing sqlite DSN: %w", err)
	}
	if dir := loc.dir(); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", loc.driverName())
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if loc.memory {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	return &Client{db: db}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Close()
}
