package main

import (
	"context"
	"fmt"
	"os"

	"github.com/leafdb/leafdb/core/write_engine/memtable"
	pagemanager "github.com/leafdb/leafdb/core/write_engine/page_manager"
	"github.com/leafdb/leafdb/pkg/logger"
	"github.com/leafdb/leafdb/pkg/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// options are the flags shared by every subcommand.
type options struct {
	dbPath      string
	pageSize    int
	poolSize    int
	keyWidth    int
	leafMaxSize int
	logLevel    string
	logFormat   string
	metricsPort int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "leafdb",
		Short: "Inspect and drive a B+ tree leaf-page file",
		Long: `leafdb works on a single page file holding a B+ tree index with
fixed-width integer keys. It offers an interactive shell for inserts, lookups
and deletes (splitting and rebalancing leaves as needed), a tree inspector and
a throttled backup.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dbPath, "db", "leaf.db", "Path of the page file")
	flags.IntVar(&opts.pageSize, "page-size", pagemanager.DefaultPageSize, "Page size in bytes")
	flags.IntVar(&opts.poolSize, "pool-size", memtable.DefaultPoolSize, "Buffer pool frames")
	flags.IntVar(&opts.keyWidth, "key-width", 8, "Key width in bytes (4, 8, 16, 32 or 64)")
	flags.IntVar(&opts.leafMaxSize, "leaf-max-size", 0, "Cap on entries per leaf (0 derives it from the page size)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "console", "Log format (console or json)")
	flags.IntVar(&opts.metricsPort, "metrics-port", 0, "Serve Prometheus /metrics on this port (0 disables telemetry)")

	rootCmd.AddCommand(
		newShellCmd(opts),
		newInspectCmd(opts),
		newBackupCmd(opts),
	)
	return rootCmd
}

// env is the process-level logger and telemetry for one command run.
type env struct {
	logger   *zap.Logger
	tel      *telemetry.Telemetry
	shutdown telemetry.ShutdownFunc
}

func newEnv(opts *options) (*env, error) {
	log, err := logger.New(logger.Config{
		Level:      opts.logLevel,
		Format:     opts.logFormat,
		OutputFile: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	tel, shutdown, err := telemetry.New(telemetry.Config{
		Enabled:        opts.metricsPort > 0,
		ServiceName:    "leafdb",
		PrometheusPort: opts.metricsPort,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	return &env{logger: log, tel: tel, shutdown: shutdown}, nil
}

func (e *env) close(ctx context.Context) {
	if err := e.shutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = e.logger.Sync()
}
