package codesearch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
)

// ServeOptions configures Serve.
type ServeOptions struct {
	Listen     string
	IndexPath  string
	Tree       string
	MaxMatches int
	Threads    int
	Timeout    time.Duration
}

// Serve loads the store at IndexPath and answers daemon RPCs on Listen
// until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions) error {
	store, err := OpenStore(opts.IndexPath, opts.Threads)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	searcher, err := NewSearcher(ctx, store, SearcherConfig{
		Tree:       opts.Tree,
		MaxMatches: opts.MaxMatches,
		Threads:    opts.Threads,
		Timeout:    opts.Timeout,
	})
	if err != nil {
		return err
	}

	info := searcher.Info()
	slog.Info("codesearch daemon loaded",
		slog.String("tree", info.Tree),
		slog.String("index", opts.IndexPath),
		slog.Int64("files", info.Files),
		slog.Int64("lines", info.Lines))

	// Connections outlive the search budget so a timed-out search can still
	// send its partial reply.
	srv := daemon.NewServer(opts.Listen, searcher, searcher.cfg.Timeout+5*time.Second)
	err = srv.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
