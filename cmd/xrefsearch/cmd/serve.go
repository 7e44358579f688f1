package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/xrefsearch/internal/config"
	"github.com/Aman-CERP/xrefsearch/internal/logging"
	"github.com/Aman-CERP/xrefsearch/internal/server"
	"github.com/Aman-CERP/xrefsearch/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var (
		listen  string
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP search server",
		Long: `Run the HTTP front end for every configured tree.

Routes:
  GET /{tree}/search?q=...   grouped results (HTML template or JSON)
  GET /{tree}/sorch?q=...    raw results for tools
  GET /{tree}/symbol?q=...   symbol lookup
  GET /{tree}/define?q=...   redirect to a symbol's definition
  GET /healthz               liveness
  GET /_stats                query telemetry

Full-text daemons are attached to, or spawned when none is running on the
tree's port. When watching is enabled, replaced index files are logged so
the server can be restarted onto the new index.`,
		Example: `  xrefsearch serve
  xrefsearch serve --listen :9000 --no-watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, listen, noWatch)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch index directories for changes")

	return cmd
}

func runServe(ctx context.Context, listen string, noWatch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := startLogging(loggingConfig(cfg, logging.DefaultConfig())); err != nil {
		return err
	}
	if len(cfg.Trees) == 0 {
		return fmt.Errorf("no trees configured; add one under trees: in %s", config.DefaultPath())
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	metrics, closeMetrics, err := openMetrics(cfg.Server.TelemetryDB)
	if err != nil {
		return err
	}
	defer closeMetrics()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := startDaemons(ctx, a.supervisors); err != nil {
		slog.Warn("some full-text daemons are unavailable", slog.String("error", err.Error()))
	}

	engine, err := a.engine(metrics)
	if err != nil {
		return err
	}
	srv, err := server.New(engine, server.Config{
		Addr:           cfg.Server.Listen,
		RequestTimeout: cfg.RequestTimeout(),
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	}, server.WithMetrics(metrics))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	if cfg.Server.Watch && !noWatch {
		w, err := watcher.New(watchTargets(cfg), watcher.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		slog.Info("watching index directories", slog.String("mode", w.Mode()), slog.Int("trees", len(cfg.Trees)))
		g.Go(func() error {
			return w.Run(ctx, logIndexChange)
		})
	}

	return g.Wait()
}

func watchTargets(cfg *config.Config) []watcher.Target {
	targets := make([]watcher.Target, 0, len(cfg.Trees))
	for _, name := range cfg.TreeNames() {
		targets = append(targets, watcher.Target{Tree: name, Dir: cfg.Trees[name].IndexPath})
	}
	return targets
}

func logIndexChange(c watcher.Change) {
	slog.Warn("index files changed; restart the server to serve the new index",
		slog.String("tree", c.Tree),
		slog.Any("files", c.Files))
}
