package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive multi-turn session (/turns, /reset, /quit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Fprint(os.Stdout, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(os.Stdout)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/turns":
					printTurns(os.Stdout, rt.agent.Turns())
					continue
				case "/reset":
					if err := rt.agent.ResetMemory(ctx); err != nil {
						fmt.Fprintf(os.Stdout, "error: %v\n", err)
						continue
					}
					fmt.Fprintln(os.Stdout, "Memory cleared.")
					continue
				}

				bundle, err := rt.agent.AnswerContext(ctx, line)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintf(os.Stdout, "error: %v\n", err)
					continue
				}
				printBundle(os.Stdout, bundle)
			}
		},
	}
}
