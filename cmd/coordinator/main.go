// Package main is the entry point for the cluster coordinator binary. It
// wires the registry (internal/coordinator), the HTTP API façade
// (internal/coordinatorapi) and the source-fetch implementation
// (internal/sourcefetch) together and serves the API until an interrupt
// signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/coordinator"
	"github.com/Dash83/cluster/internal/coordinatorapi"
	"github.com/Dash83/cluster/internal/sourcefetch"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr      string
	workspacePath string
	logDir        string
	logLevel      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "coordinator",
		Short: "cluster coordinator — authoritative view of the fleet's current invocation",
		Long: `coordinator owns the registry of hosts and invocations for a cluster
experiment run: it clones the requested source revision, tracks which
invocation is "current", and accepts per-host log uploads as agents complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "addr", envOrDefault("CLUSTER_ADDR", ":8000"), "HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.workspacePath, "workspace-path", envOrDefault("CLUSTER_WORKSPACE_PATH", "./workspace"), "Clone destination for the current invocation's source tree")
	root.PersistentFlags().StringVar(&cfg.logDir, "log-dir", envOrDefault("CLUSTER_LOG_DIR", "./logs"), "Directory uploaded log archives are stored under")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("CLUSTER_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coordinator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting coordinator",
		zap.String("version", version),
		zap.String("addr", cfg.httpAddr),
		zap.String("workspace_path", cfg.workspacePath),
		zap.String("log_dir", cfg.logDir),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.workspacePath, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	if err := os.MkdirAll(cfg.logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	fetcher := sourcefetch.NewGitFetcher()
	registry := coordinator.New(ctx, fetcher, cfg.workspacePath, logger)

	router := coordinatorapi.NewRouter(coordinatorapi.Config{
		Registry: registry,
		LogDir:   cfg.logDir,
		Logger:   logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // uploads can be large archives
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down coordinator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("coordinator stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
