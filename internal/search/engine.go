package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/query"
	"github.com/Aman-CERP/xrefsearch/internal/telemetry"
)

const (
	// FileResponseLimit is the number of matching paths above which a file
	// search reports a limit.
	FileResponseLimit = 1000

	// filePreFilterLimit bounds how many paths a file search collects.
	filePreFilterLimit = FileResponseLimit * 8

	// maxIdentifierSymbols caps the identifiers expanded per search.
	maxIdentifierSymbols = 500
)

// Limit names reported in the *limits* list.
const (
	LimitFilePreFilter = "file pre-filter limit"
	LimitFile          = "file"
	LimitFullText      = "fulltext search hit limit"
	LimitResultCount   = "result count limit"
	LimitWork          = "work limit"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

var (
	unescapeRe   = regexp.MustCompile(`\\(.)`)
	qualifierSep = regexp.MustCompile(`\.|::`)
)

// Engine dispatches parsed queries to a tree's backends and aggregates
// their results.
type Engine struct {
	registry *Registry
	metrics  *telemetry.QueryMetrics
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithMetrics sets an optional query metrics collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a search engine over the trees of registry.
func NewEngine(registry *Registry, opts ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: tree registry is required", ErrNilDependency)
	}
	e := &Engine{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Registry returns the engine's trees.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Search answers a search request against the named tree.
func (e *Engine) Search(ctx context.Context, treeName string, req query.Request) (*Response, error) {
	tree, err := e.registry.Get(treeName)
	if err != nil {
		return nil, err
	}
	return e.SearchTree(ctx, tree, query.ParseRequest(req))
}

// SearchTree runs a parsed query. Trivial queries return an empty
// response without touching any backend.
func (e *Engine) SearchTree(ctx context.Context, tree *Tree, q *query.Query) (*Response, error) {
	start := time.Now()
	intent := q.Intent()

	if q.IsTrivial() {
		slog.Debug("trivial query", slog.String("tree", tree.Name), slog.String("query", q.Raw))
		return &Response{Trivial: true}, nil
	}

	agg := NewAggregator()
	resp := &Response{Title: q.Title()}
	workLimit := false

	switch intent {
	case query.IntentSymbol:
		agg.SetPathFilter(q.PathRe)
		keyed, err := e.symbolResults(ctx, tree, q.Symbol, true)
		if err != nil {
			return nil, err
		}
		agg.Add(keyed)

	case query.IntentRegex:
		ft, err := e.fullText(ctx, tree, q, q.Regex)
		if err != nil {
			return nil, err
		}
		e.addFullText(agg, resp, ft)

	case query.IntentIdentifier:
		agg.SetPathFilter(q.PathRe)
		batches, err := e.identifierBatches(ctx, tree, q.Identifier, true, q.FoldCase)
		if err != nil {
			return nil, err
		}
		addBatches(agg, batches)

	case query.IntentFreeText:
		workLimit = true
		if err := e.freeText(ctx, tree, q, agg, resp); err != nil {
			return nil, err
		}

	case query.IntentPathOnly:
		files, limited, err := e.fileResults(ctx, tree, q.PathRe)
		if err != nil {
			return nil, err
		}
		if limited {
			resp.Limits = append(resp.Limits, LimitFile)
		}
		agg.Add(Keyed{KindFiles: files})
	}

	resp.Groups = agg.Get(workLimit)
	if agg.CountLimitHit {
		resp.Limits = append(resp.Limits, LimitResultCount)
	}
	if agg.WorkLimitHit {
		resp.Limits = append(resp.Limits, LimitWork)
	}

	e.recordMetrics(tree.Name, q, resp.Groups.Count(), resp.Limits, resp.TimedOut, time.Since(start))
	return resp, nil
}

// freeText fans out to the full-text daemon and, without a path clause,
// to file names and identifiers. Batches are added in a fixed order once
// every backend has answered.
func (e *Engine) freeText(ctx context.Context, tree *Tree, q *query.Query, agg *Aggregator, resp *Response) error {
	var (
		ft           *daemon.SearchResult
		files        []index.PathHit
		filesLimited bool
		batches      []qualifiedBatch
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ft, err = e.fullText(gctx, tree, q, q.Default)
		return err
	})
	if !q.Has(query.ClausePath) {
		g.Go(func() error {
			var err error
			files, filesLimited, err = e.fileResults(gctx, tree, q.Default)
			return err
		})
		g.Go(func() error {
			var err error
			batches, err = e.identifierBatches(gctx, tree, q.Default, false, q.FoldCase)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.addFullText(agg, resp, ft)
	if filesLimited {
		resp.Limits = append(resp.Limits, LimitFilePreFilter)
	}
	if len(files) > 0 {
		agg.Add(Keyed{KindFiles: files})
	}
	addBatches(agg, batches)
	return nil
}

func addBatches(agg *Aggregator, batches []qualifiedBatch) {
	for _, b := range batches {
		agg.AddQualified(b.qual, b.hits, b.fixup)
	}
}

func (e *Engine) addFullText(agg *Aggregator, resp *Response, ft *daemon.SearchResult) {
	if ft == nil {
		return
	}
	resp.TimedOut = resp.TimedOut || ft.TimedOut
	if ft.LimitHit {
		resp.Limits = append(resp.Limits, LimitFullText)
	}
	if len(ft.Hits) > 0 {
		agg.Add(Keyed{KindTextOccurrences: ft.Hits})
	}
}

// symbolResults looks up a comma-separated symbol list and expands it.
func (e *Engine) symbolResults(ctx context.Context, tree *Tree, symbols string, traverse bool) (Keyed, error) {
	if tree.Crossref == nil {
		return Keyed{}, nil
	}
	merged, err := tree.Crossref.LookupMerging(ctx, symbols)
	if err != nil {
		return nil, err
	}
	return Expand(ctx, tree.Crossref, merged, traverse)
}

// fullText runs pattern on the tree's daemon. An unreachable daemon
// degrades to no results and an RPC timeout to an empty timed-out result;
// a bad pattern is the caller's error.
func (e *Engine) fullText(ctx context.Context, tree *Tree, q *query.Query, pattern string) (*daemon.SearchResult, error) {
	if tree.FullText == nil {
		return nil, nil
	}

	req := daemon.SearchRequest{
		Pattern:      pattern,
		FoldCase:     q.FoldCase,
		ContextLines: q.ContextLines,
	}
	if q.Has(query.ClausePath) {
		req.PathFilter = q.PathRe
	}

	res, err := tree.FullText.Search(ctx, req)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	switch xerrors.GetCode(err) {
	case xerrors.ErrCodeDaemonUnavailable:
		slog.Error("full-text search skipped",
			slog.String("tree", tree.Name),
			slog.String("error", err.Error()))
		return nil, nil
	case xerrors.ErrCodeDaemonTimeout:
		slog.Warn("full-text search timed out",
			slog.String("tree", tree.Name),
			slog.String("error", err.Error()))
		return &daemon.SearchResult{TimedOut: true}, nil
	}
	return nil, err
}

// fileResults greps the tree's path list. The flag reports more than
// FileResponseLimit matches.
func (e *Engine) fileResults(ctx context.Context, tree *Tree, pattern string) ([]index.PathHit, bool, error) {
	if tree.Files == nil {
		return nil, false, nil
	}
	paths, total, err := tree.Files.Grep(ctx, pattern, filePreFilterLimit)
	if err != nil {
		return nil, false, err
	}
	hits := make([]index.PathHit, 0, len(paths))
	for _, p := range paths {
		hits = append(hits, index.PathHit{Path: p, Lines: []index.LineHit{}})
	}
	return hits, total > FileResponseLimit, nil
}

// splitIdentifier undoes regex escaping and returns the needle with its
// last dotted or ::-separated component.
func splitIdentifier(needle string) (string, string) {
	needle = unescapeRe.ReplaceAllString(needle, "$1")
	pieces := qualifierSep.Split(needle, -1)
	return needle, pieces[len(pieces)-1]
}

// identifierBatches looks up identifiers matching needle and expands each
// one's symbols. Highlight bounds are trimmed to the typed length of the
// last name component. Incomplete needles whose last component is shorter
// than three characters find nothing.
func (e *Engine) identifierBatches(ctx context.Context, tree *Tree, needle string, complete, foldCase bool) ([]qualifiedBatch, error) {
	if tree.Identifiers == nil || tree.Crossref == nil {
		return nil, nil
	}

	needle, last := splitIdentifier(needle)
	if !complete && len(last) < 3 {
		return nil, nil
	}
	fixup := TruncateBounds(len(last))

	ids, err := tree.Identifiers.Lookup(ctx, needle, complete, foldCase, maxIdentifierSymbols)
	if err != nil {
		return nil, err
	}

	batches := make([]qualifiedBatch, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keyed, err := e.symbolResults(ctx, tree, id.Symbol, true)
		if err != nil {
			return nil, err
		}
		batches = append(batches, qualifiedBatch{qual: id.Qualified, hits: keyed, fixup: fixup})
	}
	return batches, nil
}

// Define returns the first definition of symbol in the named tree.
func (e *Engine) Define(ctx context.Context, treeName, symbol string) (string, int, error) {
	tree, err := e.registry.Get(treeName)
	if err != nil {
		return "", 0, err
	}

	keyed, err := e.symbolResults(ctx, tree, symbol, false)
	if err != nil {
		return "", 0, err
	}
	for _, ph := range keyed[KindDefinitions] {
		if len(ph.Lines) > 0 {
			return ph.Path, ph.Lines[0].Lno, nil
		}
	}
	return "", 0, xerrors.New(xerrors.ErrCodeSymbolNotFound,
		fmt.Sprintf("no definition of %q in %s", symbol, treeName), nil)
}

func (e *Engine) recordMetrics(tree string, q *query.Query, count int, limits []string, timedOut bool, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Tree:        tree,
		Query:       strings.TrimSpace(q.Raw),
		Intent:      q.Intent().String(),
		ResultCount: count,
		Limits:      limits,
		TimedOut:    timedOut,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}
