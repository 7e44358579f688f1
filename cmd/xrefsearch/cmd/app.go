package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/xrefsearch/internal/config"
	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/search"
	"github.com/Aman-CERP/xrefsearch/internal/telemetry"
)

// app holds the trees and daemon supervisors built from a config.
type app struct {
	cfg         *config.Config
	registry    *search.Registry
	supervisors map[string]*daemon.Supervisor
}

// supervisorConfig derives a tree's daemon settings from cfg.
func supervisorConfig(cfg *config.Config, name string, tc config.TreeConfig) daemon.SupervisorConfig {
	sc := daemon.DefaultSupervisorConfig(name, tc.CodesearchPath, tc.CodesearchPort)
	sc.Binary = cfg.Codesearch.Binary
	sc.SubtreePrefixes = tc.SubtreePrefixes
	if cfg.Codesearch.RunDir != "" {
		sc.RunDir = cfg.Codesearch.RunDir
	}
	if cfg.Codesearch.MaxMatches > 0 {
		sc.MaxMatches = cfg.Codesearch.MaxMatches
	}
	if cfg.Codesearch.Threads > 0 {
		sc.Threads = cfg.Codesearch.Threads
	}
	if d := cfg.SearchTimeout(); d > 0 {
		sc.SearchTimeout = d
	}
	if d := cfg.RPCTimeout(); d > 0 {
		sc.RPCTimeout = d
	}
	return sc
}

// newSupervisors creates a stopped supervisor for every tree with a
// full-text index.
func newSupervisors(cfg *config.Config) (map[string]*daemon.Supervisor, error) {
	sups := make(map[string]*daemon.Supervisor)
	for _, name := range cfg.TreeNames() {
		tc := cfg.Trees[name]
		if tc.CodesearchPath == "" {
			continue
		}
		sup, err := daemon.NewSupervisor(supervisorConfig(cfg, name, tc))
		if err != nil {
			return nil, fmt.Errorf("tree %s: %w", name, err)
		}
		sups[name] = sup
	}
	return sups, nil
}

// openApp opens every configured tree. Trees with a full-text index get
// their supervisor as the full-text source.
func openApp(cfg *config.Config) (*app, error) {
	sups, err := newSupervisors(cfg)
	if err != nil {
		return nil, err
	}

	var trees []*search.Tree
	closeAll := func() {
		for _, t := range trees {
			_ = t.Close()
		}
	}
	for _, name := range cfg.TreeNames() {
		tc := cfg.Trees[name]
		opts := []search.TreeOption{search.WithCrossrefCache(cfg.Server.CrossrefCacheSize)}
		if sup, ok := sups[name]; ok {
			opts = append(opts, search.WithFullText(sup))
		}
		tree, err := search.OpenTree(name, tc.IndexPath, opts...)
		if err != nil {
			closeAll()
			return nil, err
		}
		trees = append(trees, tree)
	}

	return &app{cfg: cfg, registry: search.NewRegistry(trees...), supervisors: sups}, nil
}

// engine builds a search engine over the app's trees.
func (a *app) engine(metrics *telemetry.QueryMetrics) (*search.Engine, error) {
	var opts []search.EngineOption
	if metrics != nil {
		opts = append(opts, search.WithMetrics(metrics))
	}
	return search.NewEngine(a.registry, opts...)
}

// handles snapshots every supervisor in tree order.
func (a *app) handles() []daemon.Handle {
	out := make([]daemon.Handle, 0, len(a.supervisors))
	for _, name := range a.cfg.TreeNames() {
		if sup, ok := a.supervisors[name]; ok {
			out = append(out, sup.Handle())
		}
	}
	return out
}

// Close releases the trees' mappings. Daemons keep running.
func (a *app) Close() error {
	return a.registry.Close()
}

// startDaemons attaches to each tree's running daemon, spawning one where
// none answers. Failures are logged and joined; searches on those trees
// degrade to no full-text results until a later restart succeeds.
func startDaemons(ctx context.Context, sups map[string]*daemon.Supervisor) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for name, sup := range sups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sup.Attach(ctx); err == nil {
				slog.Info("attached to codesearch daemon", slog.String("tree", name))
				return
			}
			if err := sup.Start(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("tree %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// openMetrics creates the query telemetry collector, persisted to path
// when it is set. The cleanup flushes and closes the store.
func openMetrics(path string) (*telemetry.QueryMetrics, func(), error) {
	if path == "" {
		m := telemetry.NewQueryMetricsWithConfig(nil, telemetry.QueryMetricsConfig{})
		return m, func() { _ = m.Close() }, nil
	}
	store, err := telemetry.OpenSQLiteMetricsStore(path)
	if err != nil {
		return nil, nil, err
	}
	m := telemetry.NewQueryMetrics(store)
	return m, func() {
		if err := m.Close(); err != nil {
			slog.Warn("failed to flush query metrics", slog.String("error", err.Error()))
		}
		_ = store.Close()
	}, nil
}
