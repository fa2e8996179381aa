package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rolecraft/internal/agent"
	"rolecraft/internal/retrieval"
)

func askCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run one answer cycle and print the gathered context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			bundle, err := rt.agent.AnswerContext(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, bundle)
			}
			printBundle(os.Stdout, bundle)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the context bundle as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printBundle(w io.Writer, b *agent.ContextBundle) {
	fmt.Fprintf(w, "Turn %d: %s after %d iteration(s)\n", b.TurnIndex, b.State, b.Iterations)
	if len(b.CallbackTurns) > 0 {
		fmt.Fprintf(w, "  Refers back to turns: %v\n", b.CallbackTurns)
	}
	if b.State == retrieval.StateExhausted && b.Missing != "" {
		fmt.Fprintf(w, "  Still missing: %s\n", b.Missing)
	}
	if len(b.SubQueries) > 0 {
		fmt.Fprintln(w, "  Sub-queries:")
		for _, q := range b.SubQueries {
			fmt.Fprintf(w, "    - %s (%s, priority %d)\n", q.Text, q.Kind, q.Priority)
		}
	}
	if len(b.CachedSubQueries) > 0 {
		fmt.Fprintln(w, "  Served from memory:")
		for _, q := range b.CachedSubQueries {
			fmt.Fprintf(w, "    - %s (%s)\n", q.Text, q.Kind)
		}
	}
	if len(b.Chunks) == 0 {
		fmt.Fprintln(w, "\nNo context found.")
		return
	}
	fmt.Fprintf(w, "\nContext (%d):\n", len(b.Chunks))
	for _, c := range b.Chunks {
		fmt.Fprintf(w, "\n[%s] %s/%s score=%.3f\n%s\n", c.ID, c.Kind, c.Granularity, c.Score, c.Text)
	}
}
