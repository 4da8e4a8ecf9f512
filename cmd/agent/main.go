// Package main is the entry point for the cluster agent binary. It
// registers with the coordinator, then runs the reconciler
// (internal/agentreconciler) and the status pusher (internal/agentheartbeat)
// concurrently until a terminating signal arrives, at which point the
// reconciler's own shutdown path kills any in-flight child and drains its
// logs before the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/agentclient"
	"github.com/Dash83/cluster/internal/agentheartbeat"
	"github.com/Dash83/cluster/internal/agentproc"
	"github.com/Dash83/cluster/internal/agentreconciler"
	"github.com/Dash83/cluster/internal/agentstate"
	"github.com/Dash83/cluster/internal/archive"
	"github.com/Dash83/cluster/internal/clustertype"
	"github.com/Dash83/cluster/internal/sourcefetch"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// registrationRetries bounds the agent's initial registration attempts
// before the process gives up and exits nonzero — there is no coordinator
// to reconcile against without one.
const registrationRetries = 10

type config struct {
	server   string
	port     uint16
	path     string
	logLevel string
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
		Use:   "agent",
		Short: "cluster agent — reconciles local subprocess state against the coordinator's current invocation",
		Long: `agent polls the coordinator for the current invocation, clones its source
revision, forks and supervises the experiment's worker process group, and
uploads compressed logs when the run ends or the coordinator switches
revisions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.server, "server", envOrDefault("CLUSTER_SERVER", ""), "Coordinator address, e.g. 192.168.1.10 (required)")
	root.PersistentFlags().Uint16Var(&cfg.port, "port", 8000, "Coordinator HTTP port")
	root.PersistentFlags().StringVar(&cfg.path, "path", envOrDefault("CLUSTER_PATH", "experiment/"), "Local workspace directory for the cloned source tree")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("CLUSTER_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	_ = root.MarkPersistentFlagRequired("server")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to resolve hostname: %w", err)
	}

	workspacePath, err := filepath.Abs(cfg.path)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path %q: %w", cfg.path, err)
	}
	if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	baseURL := fmt.Sprintf("http://%s:%d", cfg.server, cfg.port)
	logger.Info("starting agent",
		zap.String("version", version),
		zap.String("hostname", hostname),
		zap.String("coordinator", baseURL),
		zap.String("workspace_path", workspacePath),
	)

	// SIGCHLD must be ignored with auto-reap semantics before any child is
	// ever forked, so the agent never needs an explicit Wait on process
	// groups it only Probes and Kills.
	agentproc.IgnoreChildSignals()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer cancel()

	client := agentclient.New(baseURL, 30*time.Second)

	host, err := registerWithRetry(ctx, client, hostname, logger)
	if err != nil {
		return fmt.Errorf("failed to register with coordinator: %w", err)
	}
	logger.Info("registered with coordinator", zap.String("host_id", host.ID.String()))

	state := agentstate.New(host.ID)
	fetcher := sourcefetch.NewGitFetcher()
	archiver := archive.NewTarGzArchiver()

	reconciler := agentreconciler.New(client, fetcher, archiver, state, hostname, workspacePath, logger)
	pusher := agentheartbeat.New(client, state, hostname, workspacePath, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reconciler.Run(ctx)
	}()
	go pusher.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down agent")
	<-done // reconciler.Run kills any in-flight child and drains its logs

	if err := reconciler.ShutdownErr(); err != nil {
		logger.Error("shutdown kill/upload did not complete cleanly", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("agent stopped")
	return nil
}

// registerWithRetry calls Register, retrying transport failures with
// exponential backoff up to registrationRetries times. A LogicalError is
// not retried — the coordinator is reachable and has rejected the request
// outright.
func registerWithRetry(ctx context.Context, client *agentclient.Client, hostname string, logger *zap.Logger) (host clustertype.Host, err error) {
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= registrationRetries; attempt++ {
		h, regErr := client.Register(ctx, hostname)
		if regErr == nil {
			return h, nil
		}
		err = regErr
		logger.Warn("registration attempt failed", zap.Int("attempt", attempt), zap.Error(regErr))

		var logical *agentclient.LogicalError
		if errors.As(regErr, &logical) {
			return host, fmt.Errorf("coordinator rejected registration: %w", regErr)
		}

		if attempt == registrationRetries {
			break
		}
		select {
		case <-ctx.Done():
			return host, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
	return host, fmt.Errorf("exhausted %d registration attempts: %w", registrationRetries, err)
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
