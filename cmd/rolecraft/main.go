package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	schemaPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:          "rolecraft",
		Short:        "Schema-aware retrieval agent for role-play knowledge graphs",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "rolecraft.yaml", "Project config file")
	root.PersistentFlags().StringVar(&schemaPath, "schema", "schema.yaml", "Schema file (built-in schema when missing)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(initCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(askCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(memoryCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "rolecraft",
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}
