package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/groundedrag/internal/api"
	"github.com/Aman-CERP/groundedrag/internal/logging"
	"github.com/Aman-CERP/groundedrag/internal/mcp"
)

// Transports accepted by serve.
const (
	transportStdio = "stdio"
	transportHTTP  = "http"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var transport string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval and answering over MCP or HTTP",
		Long: `Serve exposes the retrieve, answer and status operations.

With --transport stdio (the default) an MCP server runs on stdin/stdout and
logs go to ~/.groundedrag/logs/ only, since stdout carries JSON-RPC. With
--transport http a REST API listens on --addr with /healthz, /metrics and
/v1/{retrieve,answer,ask}.`,
		Example: `  groundedrag serve
  groundedrag serve --transport http --addr 127.0.0.1:8765`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio or http (default from config)")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config)")

	return cmd
}

func runServe(ctx context.Context, g *globalFlags, transport, addr string) error {
	root, cfg, err := loadConfig(g.root)
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}
	if addr == "" {
		addr = cfg.Server.HTTPAddr
	}
	if transport != transportStdio && transport != transportHTTP {
		return fmt.Errorf("unknown transport %q (use stdio or http)", transport)
	}

	level := cfg.Server.LogLevel
	if g.debug {
		level = "debug"
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	if transport == transportStdio {
		logCfg = logging.StdioConfig(level)
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	a, err := newApp(ctx, root, cfg, appOptions{withLLM: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	logger.Info("server_starting",
		slog.String("transport", transport),
		slog.String("root", root),
		slog.String("embedder", a.embedder.ModelName()),
		slog.Int("dense_chunks", a.dense.Count()),
		slog.Bool("lexical", a.lexical != nil))

	if transport == transportStdio {
		return serveMCP(ctx, a, logger)
	}
	return serveHTTP(ctx, a, addr, logger)
}

func serveMCP(ctx context.Context, a *app, logger *slog.Logger) error {
	opts := mcp.Options{
		Embedder: a.embedder,
		Dense:    a.dense,
		Reranker: a.cfg.Reranker.Provider,
		Activity: a.activity,
		Logger:   logger,
	}
	if a.lexical != nil {
		opts.Lexical = a.lexical
	}
	srv, err := mcp.NewServer(a.retriever, a.pipeline, opts)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, transportStdio)
}

func serveHTTP(ctx context.Context, a *app, addr string, logger *slog.Logger) error {
	srv, err := api.New(a.retriever,
		api.WithAnswerer(a.answerer),
		api.WithAsker(a.pipeline),
		api.WithGatherer(a.registry),
		api.WithRateLimit(a.cfg.Server.RateLimit),
		api.WithTracing(),
		api.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, addr)
}
