package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/index/indextest"
	"github.com/Aman-CERP/xrefsearch/internal/search"
	"github.com/Aman-CERP/xrefsearch/internal/telemetry"
)

// stubFullText answers every search with fn.
type stubFullText struct {
	fn func(ctx context.Context, req daemon.SearchRequest) (*daemon.SearchResult, error)
}

func (s stubFullText) Search(ctx context.Context, req daemon.SearchRequest) (*daemon.SearchResult, error) {
	return s.fn(ctx, req)
}

const searchTemplate = "<html><title>{{TITLE}}</title><script>var results = {{BODY}};</script></html>"

// newTestServer builds a tree "test" whose crossref holds Foo#Bar defined
// at path.cpp:42.
func newTestServer(t *testing.T, ft search.FullTextSource, cfg Config, opts ...Option) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	indextest.WriteCrossref(t, dir, map[string]string{
		"Foo#Bar": indextest.DefsPayload("path.cpp", 42, "void Foo::Bar() {"),
	}, indextest.Options{})
	indextest.WriteIdentifiers(t, dir, [][2]string{{"Foo::Bar", "Foo#Bar"}})
	indextest.WriteLines(t, dir, index.RepoFilesFile, []string{"path.cpp", "dom/Window.cpp"})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "search.html"), []byte(searchTemplate), 0o644))

	var treeOpts []search.TreeOption
	if ft != nil {
		treeOpts = append(treeOpts, search.WithFullText(ft))
	}
	tree, err := search.OpenTree("test", dir, treeOpts...)
	require.NoError(t, err)
	registry := search.NewRegistry(tree)
	t.Cleanup(func() { _ = registry.Close() })

	engine, err := search.NewEngine(registry)
	require.NoError(t, err)
	srv, err := New(engine, cfg, opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string, jsonAccept bool) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if jsonAccept {
		req.Header.Set("Accept", "application/json")
	}
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Code
}

func TestSearch_SymbolEndToEnd(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	resp, body := get(t, ts, "/test/search?q=symbol:Foo%23Bar", true)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Accept", resp.Header.Get("Vary"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Contains(t, raw, "normal")
	var normal map[string][]index.PathHit
	require.NoError(t, json.Unmarshal(raw["normal"], &normal))

	defs := normal["Definitions"]
	require.Len(t, defs, 1)
	assert.Equal(t, "path.cpp", defs[0].Path)
	require.Len(t, defs[0].Lines, 1)
	assert.Equal(t, 42, defs[0].Lines[0].Lno)
	assert.JSONEq(t, `"Symbol Foo#Bar"`, string(raw["*title*"]))
	assert.JSONEq(t, `false`, string(raw["*timedout*"]))
}

func TestSearch_TrivialIsEmptyObject(t *testing.T) {
	called := false
	ts := newTestServer(t, stubFullText{fn: func(context.Context, daemon.SearchRequest) (*daemon.SearchResult, error) {
		called = true
		return &daemon.SearchResult{}, nil
	}}, Config{})

	resp, body := get(t, ts, "/test/search?q=ab", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "{}", string(body))
	assert.False(t, called)
}

func TestSearch_HTMLTemplate(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	resp, body := get(t, ts, "/test/search?q=symbol:Foo%23Bar", false)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, "Accept", resp.Header.Get("Vary"))
	page := string(body)
	assert.Contains(t, page, "<title>Search</title>")
	assert.Contains(t, page, `"path":"path.cpp"`)
	assert.NotContains(t, page, "{{BODY}}")
}

func TestSearch_HTMLDoesNotReflectMarkup(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	_, body := get(t, ts, "/test/search?q="+url.QueryEscape("id:</script><script>alert(1)"), false)

	page := string(body)
	assert.Equal(t, 1, strings.Count(page, "</script>"))
	assert.NotContains(t, page, "<script>alert")
}

func TestHTMLEscaper(t *testing.T) {
	assert.Equal(t, `<\/script><\script><\!--`, htmlEscaper.Replace("</script><script><!--"))
}

func TestSearch_UnknownTree(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	resp, body := get(t, ts, "/nope/search?q=symbol:Foo", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, xerrors.ErrCodeUnknownTree, errorCode(t, body))
}

func TestSearch_DaemonUnavailableIsEmpty(t *testing.T) {
	ts := newTestServer(t, stubFullText{fn: func(context.Context, daemon.SearchRequest) (*daemon.SearchResult, error) {
		return nil, xerrors.New(xerrors.ErrCodeDaemonUnavailable, "down", nil)
	}}, Config{})

	resp, body := get(t, ts, "/test/search?q=re:Window", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"*title*":"re:Window","*timedout*":false,"*limits*":[]}`, string(body))
}

func TestSearch_BadPatternIs400(t *testing.T) {
	ts := newTestServer(t, stubFullText{fn: func(context.Context, daemon.SearchRequest) (*daemon.SearchResult, error) {
		return nil, xerrors.New(xerrors.ErrCodeInvalidQuery, "bad pattern", nil)
	}}, Config{})

	resp, body := get(t, ts, "/test/search?q=re:Win(", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, xerrors.ErrCodeInvalidQuery, errorCode(t, body))
}

func TestSearch_HungBackendTimesOut(t *testing.T) {
	// Given: a daemon that never answers and ignores cancellation
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	ts := newTestServer(t, stubFullText{fn: func(context.Context, daemon.SearchRequest) (*daemon.SearchResult, error) {
		<-release
		return &daemon.SearchResult{}, nil
	}}, Config{RequestTimeout: 50 * time.Millisecond})

	// When
	start := time.Now()
	resp, body := get(t, ts, "/test/search?q=re:Window", true)

	// Then: the watchdog answers 504 and the listener keeps serving
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, xerrors.ErrCodeRequestTimeout, errorCode(t, body))
	assert.Less(t, time.Since(start), 5*time.Second)

	resp, _ = get(t, ts, "/healthz", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearch_PanicIs500(t *testing.T) {
	ts := newTestServer(t, stubFullText{fn: func(context.Context, daemon.SearchRequest) (*daemon.SearchResult, error) {
		panic("index exploded at /srv/index/crossref")
	}}, Config{})

	resp, body := get(t, ts, "/test/search?q=re:Window", true)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, xerrors.ErrCodeInternal, errorCode(t, body))
	assert.NotContains(t, string(body), "/srv/index")

	resp, _ = get(t, ts, "/test/search?q=symbol:Foo%23Bar", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDefine_Redirects(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	resp, _ := get(t, ts, "/test/define?q=Foo%23Bar", false)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/test/source/path.cpp#42", resp.Header.Get("Location"))
}

func TestDefine_Errors(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	resp, body := get(t, ts, "/test/define?q=Missing", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, xerrors.ErrCodeSymbolNotFound, errorCode(t, body))

	resp, body = get(t, ts, "/test/define", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, xerrors.ErrCodeInvalidQuery, errorCode(t, body))
}

func TestSymbolAndSorch(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	for _, path := range []string{"/test/symbol?q=Foo%23Bar", "/test/sorch?q=symbol:Foo%23Bar"} {
		resp, body := get(t, ts, path, true)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var got search.RawResponse
		require.NoError(t, json.Unmarshal(body, &got))
		require.Contains(t, got.Semantic, "Foo#Bar", path)
		assert.Equal(t, "path.cpp", got.Semantic["Foo#Bar"].Hits["normal"]["defs"][0].Path)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, Config{RateLimit: 0.001, RateBurst: 1})

	resp, _ := get(t, ts, "/test/search?q=symbol:Foo%23Bar", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, ts, "/test/search?q=symbol:Foo%23Bar", true)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, xerrors.ErrCodeRateLimited, errorCode(t, body))

	// health checks are not rate limited
	resp, _ = get(t, ts, "/healthz", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	metrics := telemetry.NewQueryMetricsWithConfig(nil, telemetry.QueryMetricsConfig{})
	t.Cleanup(func() { _ = metrics.Close() })

	dir := t.TempDir()
	indextest.WriteCrossref(t, dir, map[string]string{}, indextest.Options{})
	tree, err := search.OpenTree("empty", dir)
	require.NoError(t, err)
	registry := search.NewRegistry(tree)
	t.Cleanup(func() { _ = registry.Close() })
	engine, err := search.NewEngine(registry, search.WithMetrics(metrics))
	require.NoError(t, err)
	srv, err := New(engine, Config{}, WithMetrics(metrics))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, body := get(t, ts, "/healthz", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status string `json:"status"`
		Trees  []struct {
			Name string `json:"name"`
		} `json:"trees"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	require.Len(t, health.Trees, 1)
	assert.Equal(t, "empty", health.Trees[0].Name)

	resp, _ = get(t, ts, "/empty/search?q=symbol:Nothing", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = get(t, ts, "/_stats", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap telemetry.QueryMetricsSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
}

func TestNotFoundHasVary(t *testing.T) {
	ts := newTestServer(t, nil, Config{})

	resp, _ := get(t, ts, "/", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Accept", resp.Header.Get("Vary"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	indextest.WriteCrossref(t, dir, map[string]string{}, indextest.Options{})
	tree, err := search.OpenTree("t", dir)
	require.NoError(t, err)
	engine, err := search.NewEngine(search.NewRegistry(tree))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })

	srv, err := New(engine, Config{})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNew_NilEngine(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, search.ErrNilDependency)
}
