package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xrefsearch/internal/codesearch"
	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/logging"
	"github.com/Aman-CERP/xrefsearch/internal/output"
)

func newCodesearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codesearch",
		Short: "Build and serve the built-in full-text index",
		Long: `The built-in full-text backend stores every line of a tree in SQLite
and answers the daemon's JSON-RPC protocol over TCP. A tree uses it when its
codesearch_path points at a store built here and codesearch.binary is unset.`,
	}

	cmd.AddCommand(newCodesearchBuildCmd())
	cmd.AddCommand(newCodesearchServeCmd())
	return cmd
}

func newCodesearchBuildCmd() *cobra.Command {
	var opts codesearch.BuildOptions
	var filesPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a full-text store from a file list",
		Example: `  xrefsearch codesearch build --tree mozilla-central \
    --root ~/src/mozilla-central --out /index/mc/livegrep.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Root == "" || opts.Out == "" {
				return fmt.Errorf("--root and --out are required")
			}
			if filesPath == "" {
				return fmt.Errorf("--files is required (e.g. the tree's %s)", index.RepoFilesFile)
			}
			files, err := codesearch.ReadFileList(filesPath)
			if err != nil {
				return fmt.Errorf("failed to read file list: %w", err)
			}
			opts.Files = files

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := codesearch.Build(ctx, opts)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("indexed %d files, %d lines in %s (%d skipped)",
				stats.Files, stats.Lines, stats.Duration.Round(time.Millisecond), stats.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Tree, "tree", "", "Tree name recorded in the store")
	cmd.Flags().StringVar(&opts.Root, "root", "", "Source checkout the file list is relative to")
	cmd.Flags().StringVar(&filesPath, "files", "", "File listing one relative path per line")
	cmd.Flags().StringVar(&opts.Out, "out", "", "Store file to create")
	cmd.Flags().Int64Var(&opts.MaxFileSize, "max-file-size", codesearch.DefaultMaxFileSize, "Skip files larger than this many bytes")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "Concurrent file reads (default: number of CPUs)")

	return cmd
}

// newCodesearchServeCmd accepts the same flags as the external codesearch
// daemon so either can be launched by the supervisor.
func newCodesearchServeCmd() *cobra.Command {
	var (
		opts         codesearch.ServeOptions
		timeoutMs    int64
		contextLines int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a full-text store (normally launched by the server)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.IndexPath == "" {
				return fmt.Errorf("--load-index is required")
			}
			opts.Timeout = time.Duration(timeoutMs) * time.Millisecond

			cfg := logging.DaemonConfig(opts.Tree)
			if opts.Tree == "" {
				cfg = logging.DaemonConfig("default")
			}
			if err := startLogging(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return codesearch.Serve(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Tree, "tree", "", "Tree name for logs")
	cmd.Flags().StringVar(&opts.Listen, "listen", "localhost:8081", "Listen address")
	cmd.Flags().StringVar(&opts.IndexPath, "load-index", "", "Store built by 'codesearch build'")
	cmd.Flags().IntVar(&opts.MaxMatches, "max-matches", daemon.DefaultMaxMatches, "Maximum matches per search")
	cmd.Flags().IntVar(&opts.Threads, "threads", 0, "Concurrent search shards (default 1)")
	cmd.Flags().Int64Var(&timeoutMs, "timeout", daemon.DefaultSearchTimeout.Milliseconds(), "Search timeout in milliseconds")
	cmd.Flags().IntVar(&contextLines, "context-lines", 0, "Accepted for compatibility; context is set per search")

	return cmd
}
