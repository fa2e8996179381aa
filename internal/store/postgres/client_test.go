package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolecraft/internal/graph"
	"rolecraft/internal/memory"
)

// openTestClient connects to the database named by ROLECRAFT_TEST_POSTGRES_DSN
// and skips the test when it is unset.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("ROLECRAFT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ROLECRAFT_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	require.NoError(t, c.EnsureSchema(ctx))
	require.NoError(t, c.ResetGraph(ctx))
	require.NoError(t, c.ResetMemory(ctx))
	return c
}

func TestGraphAndSearch(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()

	doc, err := graph.ReadDocument(filepath.Join("..", "..", "graph", "testdata", "snapshot.yaml"))
	require.NoError(t, err)
	for _, e := range doc.Entities {
		require.NoError(t, c.UpsertEntity(ctx, e))
	}
	for _, r := range doc.Relationships {
		require.NoError(t, c.UpsertRelationship(ctx, r))
	}
	for _, cm := range doc.Communities {
		require.NoError(t, c.UpsertCommunity(ctx, cm))
	}

	loaded, err := c.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Entities, 3)
	assert.Len(t, loaded.Relationships, 2)
	require.Len(t, loaded.Communities, 2)
	assert.Equal(t, []string{"c7", "c2"}, loaded.Communities[0].MemberIDs)

	results, err := c.Search(ctx, "七七", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c7", results[0].ID)
}

func TestMemoryRoundTrip(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	saved := &memory.State{
		Version:   memory.StateVersion,
		NextIndex: 3,
		Turns:     []memory.Turn{{Index: 2, UserQuery: "七七是谁", Timestamp: ts}},
	}
	require.NoError(t, c.SaveMemory(ctx, saved))

	loaded, err := c.LoadMemory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.NextIndex)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, "七七是谁", loaded.Turns[0].UserQuery)
}
