package search

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/Aman-CERP/xrefsearch/internal/index"
)

const (
	// MaxResultCount caps the lines a response carries.
	MaxResultCount = 1000

	// MaxWork caps how many qualified path groups of one kind are compiled
	// when the work limit is on.
	MaxWork = 750
)

type qualifiedBatch struct {
	qual  string
	hits  Keyed
	fixup LineFixup
}

type compiledPath struct {
	lines []index.LineHit
	fixup LineFixup
}

type compiledKind struct {
	paths map[string]*compiledPath
}

// compiledPathKind keeps its qualified kinds in insertion order.
type compiledPathKind struct {
	order []string
	kinds map[string]*compiledKind
}

// Aggregator collects result batches from every backend and merges them
// into one response. It first compiles the batches into a
// pathkind → kind → path tree, then emits the tree in precedence order
// under a global result cap, dropping lines already emitted.
//
// An Aggregator is used by one request and is not safe for concurrent use.
type Aggregator struct {
	results   []Keyed
	qualified []qualifiedBatch
	pathRe    *regexp.Regexp

	maxCount int
	maxWork  int

	compiled map[string]*compiledPathKind

	// CountLimitHit is set when emission stopped at the result cap.
	CountLimitHit bool
	// WorkLimitHit is set when qualified batches were skipped.
	WorkLimitHit bool
}

// NewAggregator returns an empty aggregator with the default limits.
func NewAggregator() *Aggregator {
	return &Aggregator{maxCount: MaxResultCount, maxWork: MaxWork}
}

// SetPathFilter restricts compiled paths to those matching pattern,
// case-insensitively. An empty pattern or ".*" removes the filter; an
// invalid regular expression matches literally.
func (a *Aggregator) SetPathFilter(pattern string) {
	if pattern == "" || pattern == ".*" {
		a.pathRe = nil
		return
	}
	a.pathRe = index.CompilePathPattern(pattern)
}

// Add queues an unqualified batch.
func (a *Aggregator) Add(hits Keyed) {
	a.results = append(a.results, hits)
}

// AddQualified queues a batch whose kinds are shown as "Kind (qual)".
func (a *Aggregator) AddQualified(qual string, hits Keyed, fixup LineFixup) {
	a.qualified = append(a.qualified, qualifiedBatch{qual: qual, hits: hits, fixup: fixup})
}

// Get compiles and emits the queued batches. With workLimit set, at most
// MaxWork qualified path groups of each kind are compiled.
func (a *Aggregator) Get(workLimit bool) Grouped {
	a.compiled = make(map[string]*compiledPathKind)

	sort.SliceStable(a.qualified, func(i, j int) bool {
		return a.qualified[i].qual < a.qualified[j].qual
	})

	for _, kind := range kindPrecedence {
		work := 0
		for _, q := range a.qualified {
			if workLimit && work > a.maxWork {
				if !a.WorkLimitHit {
					slog.Debug("search work limit hit", slog.String("kind", kind), slog.Int("work", work))
				}
				a.WorkLimitHit = true
				break
			}
			for _, ph := range q.hits[kind] {
				a.compile(kind, q.qual, ph, q.fixup)
				work++
			}
		}

		for _, r := range a.results {
			for _, ph := range r[kind] {
				a.compile(kind, "", ph, NoFixup)
			}
		}
	}

	return a.emit()
}

func (a *Aggregator) compile(kind, qual string, ph index.PathHit, fixup LineFixup) {
	qkind := kind
	if qual != "" {
		qkind = fmt.Sprintf("%s (%s)", kind, qual)
	}

	if a.pathRe != nil && !a.pathRe.MatchString(ph.Path) {
		return
	}
	pathKind := ClassifyPath(ph.Path)

	pk := a.compiled[pathKind]
	if pk == nil {
		pk = &compiledPathKind{kinds: make(map[string]*compiledKind)}
		a.compiled[pathKind] = pk
	}
	ck := pk.kinds[qkind]
	if ck == nil {
		ck = &compiledKind{paths: make(map[string]*compiledPath)}
		pk.kinds[qkind] = ck
		pk.order = append(pk.order, qkind)
	}
	cp := ck.paths[ph.Path]
	if cp == nil {
		// the first batch to reach a path decides its fixup
		cp = &compiledPath{fixup: fixup}
		ck.paths[ph.Path] = cp
	}
	cp.lines = append(cp.lines, ph.Lines...)
}

type lineKey struct {
	path string
	lno  int
}

func (a *Aggregator) emit() Grouped {
	var out Grouped
	seen := make(map[lineKey]bool)
	count := 0

	for _, pathKind := range pathPrecedence {
		pk := a.compiled[pathKind]
		if pk == nil {
			continue
		}
		var group *PathKindGroup

		for _, qkind := range pk.order {
			ck := pk.kinds[qkind]
			paths := make([]string, 0, len(ck.paths))
			for p := range ck.paths {
				paths = append(paths, p)
			}
			sort.Strings(paths)

			var kindGroup *KindGroup
			for _, path := range paths {
				cp := ck.paths[path]
				sort.SliceStable(cp.lines, func(i, j int) bool {
					return cp.lines[i].Lno < cp.lines[j].Lno
				})

				var lines []index.LineHit
				for _, line := range cp.lines {
					key := lineKey{path, line.Lno}
					if seen[key] {
						continue
					}
					seen[key] = true
					lines = append(lines, cp.fixup.Apply(line))
					count++
					if count >= a.maxCount {
						break
					}
				}
				if len(cp.lines) == 0 {
					// a bare path, as in the Files kind, costs one result
					count++
				}

				if len(lines) > 0 || qkind == KindFiles {
					if group == nil {
						out = append(out, PathKindGroup{PathKind: pathKind})
						group = &out[len(out)-1]
					}
					if kindGroup == nil {
						group.Kinds = append(group.Kinds, KindGroup{Kind: qkind})
						kindGroup = &group.Kinds[len(group.Kinds)-1]
					}
					if lines == nil {
						lines = []index.LineHit{}
					}
					kindGroup.Paths = append(kindGroup.Paths, index.PathHit{Path: path, Lines: lines})
				}

				if count >= a.maxCount {
					a.CountLimitHit = true
					return out
				}
			}
		}
	}
	return out
}
