// Package telemetry keeps local counters about the queries a server answers.
// Nothing is reported anywhere; the data is exposed on /_stats and, when a
// store is configured, flushed to a SQLite file.
package telemetry

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

var bucketBounds = []struct {
	below time.Duration
	b     LatencyBucket
}{
	{10 * time.Millisecond, BucketP10},
	{50 * time.Millisecond, BucketP50},
	{100 * time.Millisecond, BucketP100},
	{500 * time.Millisecond, BucketP500},
}

func LatencyToBucket(d time.Duration) LatencyBucket {
	d = d.Truncate(time.Millisecond)
	for _, bb := range bucketBounds {
		if d < bb.below {
			return bb.b
		}
	}
	return BucketP1000
}

// QueryEvent describes one answered search.
type QueryEvent struct {
	Tree        string
	Query       string
	Intent      string
	ResultCount int
	Limits      []string
	TimedOut    bool
	Latency     time.Duration
	Timestamp   time.Time
}

// ring keeps the newest n values. It is guarded by its owner's lock.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](n int) *ring[T] {
	return &ring[T]{buf: make([]T, n)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next, r.full = 0, true
	}
}

// items returns the values oldest first.
func (r *ring[T]) items() []T {
	if !r.full {
		return slices.Clone(r.buf[:r.next])
	}
	return append(slices.Clone(r.buf[r.next:]), r.buf[:r.next]...)
}

// ExtractTerms splits a search string into terms worth counting: clause
// prefixes are stripped, terms are lowercased and shorter ones dropped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if i := strings.IndexByte(w, ':'); i > 0 && i < len(w)-1 {
			switch w[:i] {
			case "symbol", "id", "re", "text", "path", "pathre":
				w = w[i+1:]
			case "context":
				continue
			}
		}
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryMetricsSnapshot is a copy of the counters since startup.
type QueryMetricsSnapshot struct {
	IntentCounts        map[string]int64        `json:"intent_counts"`
	TreeCounts          map[string]int64        `json:"tree_counts"`
	LimitCounts         map[string]int64        `json:"limit_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	TimeoutCount        int64                   `json:"timeout_count"`
	Since               time.Time               `json:"since"`
}

func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return 100 * float64(s.ZeroResultCount) / float64(s.TotalQueries)
}

// QueryMetricsStore persists what the collector flushes.
type QueryMetricsStore interface {
	Save(ctx context.Context, b Batch) error
}

// QueryMetricsConfig sizes the collector. Zero fields take the defaults.
type QueryMetricsConfig struct {
	TopTermsCapacity    int           // default 100
	ZeroResultsCapacity int           // default 100
	FlushInterval       time.Duration // 0 disables periodic flushing
}

func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       time.Minute,
	}
}

// QueryMetrics aggregates QueryEvents. It is safe for concurrent use, and a
// nil *QueryMetrics ignores Record.
type QueryMetrics struct {
	store QueryMetricsStore
	since time.Time
	stop  chan struct{}
	done  chan struct{}

	mu       sync.RWMutex
	closed   bool
	total    int64
	zeroes   int64
	timeouts int64
	counts   map[Dimension]map[string]int64
	terms    *lru.Cache[string, int64]
	misses   *ring[string]
	pending  Batch // increments since the last flush
}

func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	cfg.TopTermsCapacity = cmp.Or(max(cfg.TopTermsCapacity, 0), def.TopTermsCapacity)
	cfg.ZeroResultsCapacity = cmp.Or(max(cfg.ZeroResultsCapacity, 0), def.ZeroResultsCapacity)

	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	m := &QueryMetrics{
		store:   store,
		since:   time.Now(),
		counts:  newBatch().Counts,
		terms:   terms,
		misses:  newRing[string](cfg.ZeroResultsCapacity),
		pending: newBatch(),
	}
	if store != nil && cfg.FlushInterval > 0 {
		m.stop, m.done = make(chan struct{}), make(chan struct{})
		go m.flushEvery(cfg.FlushInterval)
	}
	return m
}

func newBatch() Batch {
	counts := make(map[Dimension]map[string]int64, 4)
	for _, d := range []Dimension{DimIntent, DimTree, DimLimit, DimLatency} {
		counts[d] = make(map[string]int64)
	}
	return Batch{Counts: counts, Terms: make(map[string]int64)}
}

func (m *QueryMetrics) flushEvery(interval time.Duration) {
	defer close(m.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = m.Flush()
		case <-m.stop:
			return
		}
	}
}

func (m *QueryMetrics) bump(d Dimension, key string) {
	m.counts[d][key]++
	m.pending.Counts[d][key]++
}

// Record counts one answered query.
func (m *QueryMetrics) Record(e QueryEvent) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.bump(DimIntent, e.Intent)
	if e.Tree != "" {
		m.bump(DimTree, e.Tree)
	}
	for _, l := range e.Limits {
		m.bump(DimLimit, l)
	}
	m.bump(DimLatency, string(LatencyToBucket(e.Latency)))
	if e.TimedOut {
		m.timeouts++
	}

	for _, term := range ExtractTerms(e.Query) {
		n, _ := m.terms.Get(term)
		m.terms.Add(term, n+1)
		m.pending.Terms[term]++
	}

	if e.ResultCount == 0 {
		m.zeroes++
		m.misses.push(e.Query)
		m.pending.Zero = append(m.pending.Zero, ZeroResult{
			Tree:  e.Tree,
			Query: e.Query,
			At:    cmp.Or(e.Timestamp, time.Now()),
		})
	}
}

// Snapshot copies the counters. TopTerms is ordered by count, most
// frequent first.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var top []TermCount
	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			top = append(top, TermCount{Term: term, Count: n})
		}
	}
	slices.SortStableFunc(top, func(a, b TermCount) int { return cmp.Compare(b.Count, a.Count) })

	latency := make(map[LatencyBucket]int64, len(m.counts[DimLatency]))
	for b, n := range m.counts[DimLatency] {
		latency[LatencyBucket(b)] = n
	}

	return &QueryMetricsSnapshot{
		IntentCounts:        maps.Clone(m.counts[DimIntent]),
		TreeCounts:          maps.Clone(m.counts[DimTree]),
		LimitCounts:         maps.Clone(m.counts[DimLimit]),
		TopTerms:            top,
		ZeroResultQueries:   m.misses.items(),
		LatencyDistribution: latency,
		TotalQueries:        m.total,
		ZeroResultCount:     m.zeroes,
		TimeoutCount:        m.timeouts,
		Since:               m.since,
	}
}

// Flush saves the increments gathered since the previous flush. Without a
// store it does nothing. A failed batch is dropped rather than retried, so
// counts are never doubled.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	batch := m.pending
	m.pending = newBatch()
	m.mu.Unlock()

	batch.Date = time.Now().Format(time.DateOnly)
	return m.store.Save(context.Background(), batch)
}

// Close stops periodic flushing and flushes once more. Later calls are
// no-ops.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.stop != nil {
		close(m.stop)
		<-m.done
	}
	return m.Flush()
}
