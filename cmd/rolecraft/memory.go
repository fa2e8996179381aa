package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rolecraft/internal/memory"
	"rolecraft/internal/store"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear persisted conversation memory",
	}
	cmd.AddCommand(memoryShowCmd())
	cmd.AddCommand(memoryResetCmd())
	return cmd
}

func memoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persisted turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := loadProject()
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

			state, err := persisterFor(cfg, db).LoadMemory(ctx)
			if err != nil {
				return err
			}
			if state == nil || len(state.Turns) == 0 {
				fmt.Fprintln(os.Stdout, "No turns stored.")
				return nil
			}
			printTurns(os.Stdout, state.Turns)
			return nil
		},
	}
}

func memoryResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete every persisted turn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := loadProject()
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

			if err := resetMemory(ctx, cfg.Memory.Path, db); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "Memory cleared.")
			return nil
		},
	}
}

func resetMemory(ctx context.Context, path string, db store.Store) error {
	if db != nil {
		return db.ResetMemory(ctx)
	}
	return memory.NewFileStore(path).Reset(ctx)
}

func printTurns(w io.Writer, turns []memory.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No turns stored.")
		return
	}
	for _, turn := range turns {
		fmt.Fprintf(w, "[%d] %s  %s\n", turn.Index, turn.Timestamp.Local().Format("2006-01-02 15:04:05"), turn.UserQuery)
		if turn.Summary != "" {
			fmt.Fprintf(w, "    summary: %s\n", turn.Summary)
		}
		if len(turn.CallbackTurns) > 0 {
			fmt.Fprintf(w, "    refers to: %v\n", turn.CallbackTurns)
		}
		texts := make([]string, 0, len(turn.SubQueries))
		for _, q := range turn.SubQueries {
			texts = append(texts, q.Text)
		}
		if len(texts) > 0 {
			fmt.Fprintf(w, "    looked up: %s\n", strings.Join(texts, "; "))
		}
	}
}
