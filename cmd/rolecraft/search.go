package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rolecraft/internal/index"
	"rolecraft/internal/mcp"
	"rolecraft/internal/store"
)

func searchCmd() *cobra.Command {
	var entityType string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search entities directly, bypassing the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, schema, err := loadProject()
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close(ctx)
			}

			var searcher mcp.LoreSearcher = db
			if db == nil {
				snapshot, err := loadSnapshot(ctx, cfg, schema, nil, newLogger())
				if err != nil {
					return err
				}
				searcher = &mcp.SnapshotSearcher{Snapshot: snapshot, Index: index.BuildFromSnapshot(snapshot)}
			}

			results, err := searcher.Search(ctx, strings.Join(args, " "), entityType, limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(os.Stdout, "No matches found.")
				return nil
			}

			for _, result := range results {
				fmt.Fprintf(os.Stdout, "%s %s (%s) score=%.2f\n", result.ID, result.Name, result.EntityType, result.Score)
				if result.Snippet != "" {
					fmt.Fprintf(os.Stdout, "    %s\n", result.Snippet)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "Entity type to filter")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultSearchLimit, "Maximum number of results")
	return cmd
}
