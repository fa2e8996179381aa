package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"rolecraft/internal/mcp"
)

func serveCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					rt.logger.Info("serving metrics", "addr", metricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						rt.logger.Error("metrics server", "err", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			var searcher mcp.LoreSearcher = &mcp.SnapshotSearcher{Snapshot: rt.snapshot, Index: rt.index}
			if rt.db != nil {
				searcher = rt.db
			}

			server := mcp.NewServer(rt.agent, rt.snapshot, searcher, version)
			return server.Run(ctx, &sdk.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
