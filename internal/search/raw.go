package search

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/query"
)

// SymbolResult is one symbol's crossref data split by path kind, keeping
// the on-disk relation names ("defs", "uses", ...).
type SymbolResult struct {
	Symbol   string                                `json:"symbol"`
	Hits     map[string]map[string][]index.PathHit `json:"hits"`
	Meta     json.RawMessage                       `json:"meta,omitempty"`
	Consumes json.RawMessage                       `json:"consumes,omitempty"`
}

// RawResponse is the structured search result. Matching file names are
// listed as bare paths and symbols are keyed by their raw symbol.
type RawResponse struct {
	Files    []string                 `json:"files"`
	Semantic map[string]*SymbolResult `json:"semantic"`
	Title    string                   `json:"*title*"`
	TimedOut bool                     `json:"*timedout*"`
	Limits   []string                 `json:"*limits*"`

	Trivial bool `json:"-"`
}

// MarshalJSON encodes a trivial response as {}.
func (r *RawResponse) MarshalJSON() ([]byte, error) {
	if r.Trivial {
		return []byte("{}"), nil
	}
	type plain RawResponse
	p := plain(*r)
	if p.Files == nil {
		p.Files = []string{}
	}
	if p.Semantic == nil {
		p.Semantic = map[string]*SymbolResult{}
	}
	if p.Limits == nil {
		p.Limits = []string{}
	}
	return json.Marshal(p)
}

// RawAggregator collects file names and whole symbol records without
// consolidating them into result kinds.
type RawAggregator struct {
	paths   []string
	symbols map[string]*SymbolResult
	pathRe  *regexp.Regexp
}

// NewRawAggregator returns an empty raw aggregator.
func NewRawAggregator() *RawAggregator {
	return &RawAggregator{symbols: make(map[string]*SymbolResult)}
}

// SetPathFilter behaves like Aggregator.SetPathFilter.
func (a *RawAggregator) SetPathFilter(pattern string) {
	if pattern == "" || pattern == ".*" {
		a.pathRe = nil
		return
	}
	a.pathRe = index.CompilePathPattern(pattern)
}

// AddPaths appends matching file names.
func (a *RawAggregator) AddPaths(paths []string) {
	a.paths = append(a.paths, paths...)
}

// AddSymbol splits rec's hits by path kind. A symbol already added is
// ignored.
func (a *RawAggregator) AddSymbol(rec *index.Record) {
	if _, ok := a.symbols[rec.Symbol]; ok {
		return
	}

	sr := &SymbolResult{
		Symbol:   rec.Symbol,
		Hits:     make(map[string]map[string][]index.PathHit),
		Meta:     rec.MetaRaw,
		Consumes: rec.Consumes,
	}
	for rel, hits := range rec.Hits {
		kind := rel.String()
		for _, ph := range hits {
			if a.pathRe != nil && !a.pathRe.MatchString(ph.Path) {
				continue
			}
			pathKind := ClassifyPath(ph.Path)
			byKind := sr.Hits[pathKind]
			if byKind == nil {
				byKind = make(map[string][]index.PathHit)
				sr.Hits[pathKind] = byKind
			}
			byKind[kind] = append(byKind[kind], ph)
		}
	}
	a.symbols[rec.Symbol] = sr
}

// Get returns the collected results.
func (a *RawAggregator) Get() *RawResponse {
	return &RawResponse{Files: a.paths, Semantic: a.symbols}
}

// Sorch answers a search request with structured symbol results. It
// handles symbol:, id: and free text; free text searches file names and
// identifiers only. Other queries return no results.
func (e *Engine) Sorch(ctx context.Context, treeName string, req query.Request) (*RawResponse, error) {
	tree, err := e.registry.Get(treeName)
	if err != nil {
		return nil, err
	}
	q := query.ParseRequest(req)
	start := time.Now()

	if q.IsTrivial() {
		return &RawResponse{Trivial: true}, nil
	}

	agg := NewRawAggregator()
	var limits []string

	switch {
	case q.Has(query.ClauseSymbol):
		agg.SetPathFilter(q.PathRe)
		for _, sym := range strings.Split(q.Symbol, ",") {
			if err := e.addRawSymbol(ctx, tree, agg, sym); err != nil {
				return nil, err
			}
		}

	case q.Has(query.ClauseIdentifier):
		agg.SetPathFilter(q.PathRe)
		if err := e.identifierSorch(ctx, tree, agg, q.Identifier, true, q.FoldCase); err != nil {
			return nil, err
		}

	case q.Has(query.ClauseDefault):
		if !q.Has(query.ClausePath) {
			files, limited, err := e.fileResults(ctx, tree, q.Default)
			if err != nil {
				return nil, err
			}
			if limited {
				limits = append(limits, LimitFilePreFilter)
			}
			paths := make([]string, 0, len(files))
			for _, f := range files {
				paths = append(paths, f.Path)
			}
			agg.AddPaths(paths)

			if err := e.identifierSorch(ctx, tree, agg, q.Default, false, q.FoldCase); err != nil {
				return nil, err
			}
		}
	}

	resp := agg.Get()
	resp.Title = q.Title()
	resp.Limits = limits

	if e.metrics != nil {
		count := len(resp.Files)
		for _, sr := range resp.Semantic {
			for _, byKind := range sr.Hits {
				for _, hits := range byKind {
					count += len(hits)
				}
			}
		}
		e.recordMetrics(tree.Name, q, count, limits, false, time.Since(start))
	}
	return resp, nil
}

func (e *Engine) addRawSymbol(ctx context.Context, tree *Tree, agg *RawAggregator, sym string) error {
	if tree.Crossref == nil {
		return nil
	}
	rec, err := tree.Crossref.Lookup(ctx, sym)
	if err != nil {
		return err
	}
	if rec != nil {
		agg.AddSymbol(rec)
	}
	return nil
}

func (e *Engine) identifierSorch(ctx context.Context, tree *Tree, agg *RawAggregator, needle string, complete, foldCase bool) error {
	if tree.Identifiers == nil {
		return nil
	}
	needle, last := splitIdentifier(needle)
	if !complete && len(last) < 3 {
		return nil
	}

	ids, err := tree.Identifiers.Lookup(ctx, needle, complete, foldCase, maxIdentifierSymbols)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.addRawSymbol(ctx, tree, agg, id.Symbol); err != nil {
			return err
		}
	}
	return nil
}
