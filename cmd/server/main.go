package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/cache"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/config"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/server"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/upstream"
)

func main() {
	root := &cobra.Command{
		Use:          "defi-yields-mcp",
		Short:        "DeFi yield pool MCP and HTTP server",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8000", "listen address")
	serveCmd.Flags().String("upstream-url", upstream.DefaultURL, "upstream pools API URL")
	serveCmd.Flags().Duration("fetch-timeout", 10*time.Second, "upstream request timeout")
	serveCmd.Flags().Int("max-retries", 3, "maximum upstream retry attempts")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	serveCmd.Flags().Duration("stale-after", 30*time.Second, "cache age before a non-forced refresh refetches")
	serveCmd.Flags().Duration("stream-interval", 15*time.Second, "SSE re-check cadence")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := upstream.NewClient(upstream.ClientConfig{
		URL:          cfg.UpstreamURL,
		FetchTimeout: cfg.FetchTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)

	poolCache := cache.New(client, cfg.StaleAfter, logger)

	// warm the cache so the first client does not pay the fetch; startup
	// proceeds on failure and the first request retries
	if _, err := poolCache.Refresh(ctx, true); err != nil {
		logger.Warn("initial cache fill failed", zap.Error(err))
	}

	srv := server.New(server.Config{
		Listen:         cfg.Listen,
		StreamInterval: cfg.StreamInterval,
	}, poolCache, logger)

	logger.Info("server start",
		zap.String("listen", cfg.Listen),
		zap.String("upstream", cfg.UpstreamURL),
		zap.Duration("stale_after", cfg.StaleAfter),
		zap.Duration("stream_interval", cfg.StreamInterval),
	)

	return srv.Run(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
