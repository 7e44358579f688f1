package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	mu      sync.Mutex
	batches []Batch
	err     error
}

func (s *recordingStore) Save(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return s.err
}

// searches is a small mixed workload over two trees.
var searches = []QueryEvent{
	{Tree: "mozilla-central", Query: "symbol:nsGlobalWindow", Intent: "symbol", ResultCount: 5, Latency: 4 * time.Millisecond},
	{Tree: "mozilla-central", Query: "window handling", Intent: "free_text", ResultCount: 3,
		Limits: []string{"result count limit"}, Latency: 30 * time.Millisecond},
	{Tree: "nss", Query: "re:ssl_.*Handshake", Intent: "regex", ResultCount: 0, TimedOut: true, Latency: 700 * time.Millisecond},
	{Tree: "nss", Query: "id:window", Intent: "identifier", ResultCount: 0, Latency: 45 * time.Millisecond},
}

func record(m *QueryMetrics, events ...QueryEvent) {
	for _, e := range events {
		m.Record(e)
	}
}

func TestQueryMetrics_Snapshot(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()
	record(m, searches...)

	s := m.Snapshot()
	assert.Equal(t, int64(4), s.TotalQueries)
	assert.Equal(t, int64(1), s.TimeoutCount)
	assert.Equal(t, map[string]int64{"mozilla-central": 2, "nss": 2}, s.TreeCounts)
	assert.Equal(t, int64(1), s.IntentCounts["regex"])
	assert.Equal(t, map[string]int64{"result count limit": 1}, s.LimitCounts)

	assert.Equal(t, []string{"re:ssl_.*Handshake", "id:window"}, s.ZeroResultQueries)
	assert.InDelta(t, 50.0, s.ZeroResultPercentage(), 0.001)

	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(2), s.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP1000])

	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "window", Count: 2}, s.TopTerms[0])
}

func TestQueryMetrics_EmptySnapshot(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	s := m.Snapshot()
	assert.Zero(t, s.TotalQueries)
	assert.Zero(t, s.ZeroResultPercentage())
	assert.Empty(t, s.TopTerms)
}

func TestQueryMetrics_FlushSendsIncrementsOnly(t *testing.T) {
	store := &recordingStore{}
	m := NewQueryMetricsWithConfig(store, QueryMetricsConfig{})

	record(m, searches[:2]...)
	require.NoError(t, m.Flush())
	record(m, searches[2:]...)
	require.NoError(t, m.Close())

	require.Len(t, store.batches, 2)
	first, second := store.batches[0], store.batches[1]

	assert.Equal(t, time.Now().Format("2006-01-02"), first.Date)
	assert.Equal(t, int64(2), first.Counts[DimTree]["mozilla-central"])
	assert.Empty(t, first.Zero)

	assert.Zero(t, second.Counts[DimTree]["mozilla-central"])
	assert.Equal(t, int64(2), second.Counts[DimTree]["nss"])
	assert.Equal(t, int64(1), second.Counts[DimLatency][string(BucketP1000)])
	require.Len(t, second.Zero, 2)
	assert.Equal(t, "nss", second.Zero[0].Tree)
	assert.False(t, second.Zero[0].At.IsZero())
}

func TestQueryMetrics_FailedFlushIsNotRetried(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	m := NewQueryMetricsWithConfig(store, QueryMetricsConfig{})

	record(m, searches[0])
	assert.Error(t, m.Flush())

	store.err = nil
	require.NoError(t, m.Flush())
	require.Len(t, store.batches, 2)
	assert.Empty(t, store.batches[1].Counts[DimIntent])
}

func TestQueryMetrics_NilAndClosed(t *testing.T) {
	var unset *QueryMetrics
	unset.Record(searches[0])

	m := NewQueryMetrics(nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	m.Record(searches[0])
	assert.Zero(t, m.Snapshot().TotalQueries)
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.Record(searches[1])
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1600), m.Snapshot().TotalQueries)
}

func TestQueryMetrics_TopTermsBounded(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{TopTermsCapacity: 3})
	defer m.Close()

	m.Record(QueryEvent{Query: "alpha beta gamma delta epsilon", ResultCount: 1})
	assert.Len(t, m.Snapshot().TopTerms, 3)
}

func TestRing(t *testing.T) {
	r := newRing[int](3)
	assert.Empty(t, r.items())

	r.push(1)
	r.push(2)
	assert.Equal(t, []int{1, 2}, r.items())

	for i := 3; i <= 5; i++ {
		r.push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.items())

	r.push(6)
	assert.Equal(t, []int{4, 5, 6}, r.items())
}

func TestLatencyToBucket(t *testing.T) {
	for ms, want := range map[int]LatencyBucket{
		0: BucketP10, 9: BucketP10,
		10: BucketP50, 49: BucketP50,
		50: BucketP100, 99: BucketP100,
		100: BucketP500, 499: BucketP500,
		500: BucketP1000, 5000: BucketP1000,
	} {
		assert.Equal(t, want, LatencyToBucket(time.Duration(ms)*time.Millisecond), "%dms", ms)
	}
}

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"error handling", []string{"error", "handling"}},
		{"nsGlobalWindow", []string{"nsglobalwindow"}},
		{"symbol:Foo#Bar", []string{"foo#bar"}},
		{"context:3 path:dom/* foo", []string{"dom/*", "foo"}},
		{"mozilla::dom", []string{"mozilla::dom"}},
		{"", nil},
		{"ab", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTerms(tt.query))
		})
	}
}
