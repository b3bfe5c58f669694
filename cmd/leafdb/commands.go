package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/leafdb/leafdb/core/storage_engine/common"
	flushmanager "github.com/leafdb/leafdb/core/write_engine/flush_manager"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newShellCmd(opts *options) *cobra.Command {
	var historyFile string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell over the page file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEnv(opts)
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			r, err := openRunner(ctx, opts, e.logger, e.tel)
			if err != nil {
				return err
			}
			defer func() {
				if err := r.Close(); err != nil {
					e.logger.Error("failed to close page file", zap.Error(err))
				}
			}()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "leafdb> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to start readline: %w", err)
			}
			defer rl.Close()

			fmt.Fprintf(rl.Stdout(), "leafdb %s on %s (type help)\n", Version, opts.dbPath)
			return runShell(ctx, r, rl.Readline, rl.Stdout())
		},
	}
	cmd.Flags().StringVar(&historyFile, "history", filepath.Join(os.TempDir(), "leafdb_history"), "Shell history file")
	return cmd
}

// runShell feeds lines from readLine to r until EOF, interrupt or exit.
// Command errors are printed and do not end the session.
func runShell(ctx context.Context, r runner, readLine func() (string, error), out io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := readLine()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		err = r.Exec(ctx, strings.TrimSpace(line), out)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the file header, the tree and the leaf chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts)
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			r, err := openRunner(cmd.Context(), opts, e.logger, e.tel)
			if err != nil {
				return err
			}
			inspectErr := r.Inspect(cmd.Context(), cmd.OutOrStdout())
			if err := r.Close(); err != nil && inspectErr == nil {
				inspectErr = err
			}
			return inspectErr
		},
	}
}

func newBackupCmd(opts *options) *cobra.Command {
	var (
		rate   int64
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "backup <destination>",
		Short: "Copy the page file, throttled, after checking its header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts)
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			// Refuse to copy anything that is not a readable page file.
			dm, err := flushmanager.NewDiskManager(opts.dbPath, opts.pageSize, e.logger)
			if err != nil {
				return err
			}
			header, err := dm.OpenOrCreateFile(false, opts.keyWidth)
			if err != nil {
				return err
			}
			if err := dm.Close(); err != nil {
				return err
			}

			start := time.Now()
			stats, err := common.CopyThrottled(cmd.Context(), opts.dbPath, args[0], rate, verify)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			e.logger.Info("backup complete",
				zap.String("src", opts.dbPath),
				zap.String("dst", args[0]),
				zap.Int64("bytes", stats.Bytes),
				zap.Duration("elapsed", time.Since(start)))
			fmt.Fprintf(cmd.OutOrStdout(), "copied %d bytes of %s (file id %s)\nsha256 %x\n",
				stats.Bytes, opts.dbPath, header.FileUUID(), stats.SHA256)
			return nil
		},
	}
	cmd.Flags().Int64Var(&rate, "rate", 32<<20, "Copy rate limit in bytes per second (0 disables)")
	cmd.Flags().BoolVar(&verify, "verify", true, "Read the copy back and compare checksums")
	return cmd
}
