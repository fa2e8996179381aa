package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rolecraft/internal/graph"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run consistency checks against the knowledge graph",
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
			if db != nil {
				defer db.Close(ctx)
			}

			snapshot, err := loadSnapshot(ctx, cfg, schema, db, newLogger())
			if err != nil {
				return err
			}

			report := graph.Validate(snapshot)
			errorIssues := report.Errors()
			warnIssues := report.Warnings()

			if len(errorIssues) == 0 && len(warnIssues) == 0 {
				fmt.Fprintln(os.Stdout, "No issues found.")
				return nil
			}

			if len(errorIssues) > 0 {
				fmt.Fprintf(os.Stdout, "Errors (%d):\n", len(errorIssues))
				printIssues(os.Stdout, errorIssues)
			}
			if len(warnIssues) > 0 {
				if len(errorIssues) > 0 {
					fmt.Fprintln(os.Stdout, "")
				}
				fmt.Fprintf(os.Stdout, "Warnings (%d):\n", len(warnIssues))
				printIssues(os.Stdout, warnIssues)
			}

			if len(errorIssues) > 0 {
				return fmt.Errorf("validation found errors")
			}
			return nil
		},
	}
}

func printIssues(out io.Writer, issues []graph.Issue) {
	for _, issue := range issues {
		location := issue.ID
		if location == "" {
			location = "-"
		}
		if issue.SourceFile != "" {
			location = fmt.Sprintf("%s (%s)", location, issue.SourceFile)
		}
		fmt.Fprintf(out, "  - %s: %s (%s)\n", location, issue.Message, issue.Code)
	}
}
