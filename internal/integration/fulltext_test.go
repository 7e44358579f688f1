// Package integration runs the search stack end to end: a full-text store
// built from source files, served by an in-process daemon under a
// supervisor, queried through the engine and the HTTP front end.
package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xrefsearch/internal/codesearch"
	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/index/indextest"
	"github.com/Aman-CERP/xrefsearch/internal/query"
	"github.com/Aman-CERP/xrefsearch/internal/search"
	"github.com/Aman-CERP/xrefsearch/internal/server"
)

const treeName = "mozilla-central"

var sources = map[string]string{
	"path.cpp":       "#include \"path.h\"\n\nvoid Foo::Bar() {\n  Baz();\n}\n",
	"dom/Window.cpp": "// Window implementation\nvoid Window::Open() {\n  Foo::Bar();\n}\n",
	"dom/Window.h":   "class Window {\n  void Open();\n};\n",
}

// goLauncher runs the daemon in a goroutine instead of a child process.
type goLauncher struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	launches int
}

func (l *goLauncher) Launch(cfg daemon.SupervisorConfig) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = codesearch.Serve(ctx, codesearch.ServeOptions{
			Listen:     cfg.Addr(),
			IndexPath:  cfg.IndexPath,
			Tree:       cfg.Tree,
			MaxMatches: cfg.MaxMatches,
			Threads:    2,
			Timeout:    cfg.SearchTimeout,
		})
	}()
	l.cancel, l.done = cancel, done
	l.launches++
	return os.Getpid(), nil
}

func (l *goLauncher) Kill(daemon.SupervisorConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	<-l.done
	l.cancel, l.done = nil, nil
	return nil
}

func (l *goLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type fixture struct {
	engine   *search.Engine
	sup      *daemon.Supervisor
	launcher *goLauncher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	root := t.TempDir()
	files := make([]string, 0, len(sources))
	for rel, body := range sources {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
		files = append(files, rel)
	}

	store := filepath.Join(t.TempDir(), "codesearch.db")
	stats, err := codesearch.Build(ctx, codesearch.BuildOptions{
		Root: root, Files: files, Out: store, Tree: treeName, Workers: 2,
	})
	require.NoError(t, err)
	require.Equal(t, len(sources), stats.Files)

	indexDir := t.TempDir()
	indextest.WriteCrossref(t, indexDir, map[string]string{
		"Foo#Bar": indextest.DefsPayload("path.cpp", 3, "void Foo::Bar() {"),
	}, indextest.Options{})
	indextest.WriteIdentifiers(t, indexDir, [][2]string{{"Foo::Bar", "Foo#Bar"}})
	indextest.WriteLines(t, indexDir, index.RepoFilesFile, []string{"dom/Window.cpp", "dom/Window.h", "path.cpp"})

	cfg := daemon.DefaultSupervisorConfig(treeName, store, freePort(t))
	cfg.RunDir = t.TempDir()
	cfg.SpawnDelay = 0
	cfg.PollInterval = 20 * time.Millisecond
	cfg.MaxTries = 50

	launcher := &goLauncher{}
	sup, err := daemon.NewSupervisor(cfg, daemon.WithLauncher(launcher))
	require.NoError(t, err)
	require.NoError(t, sup.Start(ctx))
	t.Cleanup(func() { _ = sup.Stop() })

	tree, err := search.OpenTree(treeName, indexDir, search.WithFullText(sup))
	require.NoError(t, err)
	registry := search.NewRegistry(tree)
	t.Cleanup(func() { _ = registry.Close() })

	engine, err := search.NewEngine(registry)
	require.NoError(t, err)
	return &fixture{engine: engine, sup: sup, launcher: launcher}
}

// paths returns the paths listed under kind, across path kinds.
func paths(resp *search.Response, kind string) []string {
	var out []string
	for _, pk := range resp.Groups {
		for _, k := range pk.Kinds {
			if k.Kind != kind {
				continue
			}
			for _, p := range k.Paths {
				out = append(out, p.Path)
			}
		}
	}
	return out
}

func TestFullText_RegexpThroughDaemon(t *testing.T) {
	f := setup(t)

	resp, err := f.engine.Search(context.Background(), treeName, query.Request{Q: "re:Window::\\w+\\("})
	require.NoError(t, err)
	assert.False(t, resp.TimedOut)
	assert.Equal(t, []string{"dom/Window.cpp"}, paths(resp, search.KindTextOccurrences))

	for _, pk := range resp.Groups {
		for _, k := range pk.Kinds {
			for _, p := range k.Paths {
				require.NotEmpty(t, p.Lines)
				assert.Equal(t, 2, p.Lines[0].Lno)
				assert.Equal(t, "void Window::Open() {", p.Lines[0].Line)
			}
		}
	}
}

func TestFullText_FreeTextFanOut(t *testing.T) {
	f := setup(t)

	resp, err := f.engine.Search(context.Background(), treeName, query.Request{Q: "Foo::Bar"})
	require.NoError(t, err)

	text := paths(resp, search.KindTextOccurrences)
	assert.ElementsMatch(t, []string{"path.cpp", "dom/Window.cpp"}, text)
	assert.NotEmpty(t, resp.Groups)
}

func TestFullText_PathFilterAndCase(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	resp, err := f.engine.Search(ctx, treeName, query.Request{Q: "window", Path: "dom/*.h"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dom/Window.h"}, paths(resp, search.KindTextOccurrences))

	resp, err = f.engine.Search(ctx, treeName, query.Request{Q: "window", Path: "dom/*.h", CaseSensitive: true})
	require.NoError(t, err)
	assert.Empty(t, paths(resp, search.KindTextOccurrences))
}

func TestFullText_RestartsDeadDaemon(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	before := f.sup.Handle().Generation

	// daemon dies behind the supervisor's back
	require.NoError(t, f.launcher.Kill(f.sup.Config()))

	resp, err := f.engine.Search(ctx, treeName, query.Request{Q: "re:Open\\(\\)"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dom/Window.cpp", "dom/Window.h"}, paths(resp, search.KindTextOccurrences))
	assert.Equal(t, 2, f.launcher.count())
	assert.Greater(t, f.sup.Handle().Generation, before)
	assert.Equal(t, daemon.StateReady.String(), f.sup.Handle().State)
}

func TestFullText_HTTP(t *testing.T) {
	f := setup(t)

	srv, err := server.New(f.engine, server.Config{RequestTimeout: 10 * time.Second})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/"+treeName+"/search?q=re:Window::Open", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"dom/Window.cpp"`)
	assert.Contains(t, string(body), search.KindTextOccurrences)
}
