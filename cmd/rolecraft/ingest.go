package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rolecraft/internal/ingest"
)

func ingestCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Write the snapshot and lore sources to the configured database",
		Args:  cobra.NoArgs,
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
			if db == nil {
				return fmt.Errorf("ingest requires database.dsn in %s", configPath)
			}
			defer db.Close(ctx)

			result, err := ingest.Run(ctx, cfg, schema, db, ingest.Options{Full: full})
			if errors.Is(err, ingest.ErrInvalidGraph) {
				fmt.Fprintf(os.Stdout, "Errors (%d):\n", len(result.Report.Errors()))
				printIssues(os.Stdout, result.Report.Errors())
				return err
			}
			if err != nil {
				return err
			}

			if result.Unchanged {
				fmt.Fprintln(os.Stdout, "Sources unchanged, nothing to do.")
			} else {
				fmt.Fprintln(os.Stdout, "Ingestion complete.")
				fmt.Fprintf(os.Stdout, "  Entities upserted:      %d\n", result.EntitiesUpserted)
				fmt.Fprintf(os.Stdout, "  Relationships upserted: %d\n", result.RelationshipsUpserted)
				fmt.Fprintf(os.Stdout, "  Communities upserted:   %d\n", result.CommunitiesUpserted)
			}
			fmt.Fprintf(os.Stdout, "  Files skipped:          %d\n", result.FilesSkipped)
			if warnings := result.Report.Warnings(); len(warnings) > 0 {
				fmt.Fprintf(os.Stdout, "\nWarnings (%d):\n", len(warnings))
				printIssues(os.Stdout, warnings)
			}

			if len(result.Errors) > 0 {
				fmt.Fprintf(os.Stdout, "\nErrors (%d):\n", len(result.Errors))
				for _, item := range result.Errors {
					fmt.Fprintf(os.Stdout, "  - %v\n", item)
				}
				return fmt.Errorf("ingestion completed with errors")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Force full re-ingestion (ignore source hashes)")
	return cmd
}
