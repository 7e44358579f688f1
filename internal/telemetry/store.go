package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Dimension names one family of daily counters.
type Dimension string

const (
	DimIntent  Dimension = "intent"
	DimTree    Dimension = "tree"
	DimLimit   Dimension = "limit"
	DimLatency Dimension = "latency"
)

// ZeroResult is a query that found nothing.
type ZeroResult struct {
	Tree  string    `json:"tree"`
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

// Batch is what one flush adds to a store. Counts are increments, not
// totals.
type Batch struct {
	Date   string
	Counts map[Dimension]map[string]int64
	Terms  map[string]int64
	Zero   []ZeroResult
}

func (b Batch) empty() bool {
	for _, c := range b.Counts {
		if len(c) > 0 {
			return false
		}
	}
	return len(b.Terms) == 0 && len(b.Zero) == 0
}

// zeroResultRetention is the number of zero-result queries kept on disk.
const zeroResultRetention = 100

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS daily_counts (
	date TEXT NOT NULL,
	dimension TEXT NOT NULL,
	key TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, dimension, key)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tree TEXT NOT NULL,
	query TEXT NOT NULL,
	at_ms INTEGER NOT NULL
);
`

// SQLiteMetricsStore persists query telemetry in a SQLite file.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// OpenSQLiteMetricsStore opens (creating if needed) a telemetry database at
// path.
func OpenSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	// one writer; the flush loop is the only caller that writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(telemetrySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// Save applies b in one transaction.
func (s *SQLiteMetricsStore) Save(ctx context.Context, b Batch) error {
	if b.empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for dim, counts := range b.Counts {
		for key, n := range counts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO daily_counts (date, dimension, key, count) VALUES (?, ?, ?, ?)
				ON CONFLICT(date, dimension, key) DO UPDATE SET count = count + excluded.count
			`, b.Date, string(dim), key, n); err != nil {
				return fmt.Errorf("add %s count: %w", dim, err)
			}
		}
	}

	for term, n := range b.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = CURRENT_TIMESTAMP
		`, term, n); err != nil {
			return fmt.Errorf("add term count: %w", err)
		}
	}

	if len(b.Zero) > 0 {
		for _, z := range b.Zero {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zero_result_queries (tree, query, at_ms) VALUES (?, ?, ?)`,
				z.Tree, z.Query, z.At.UnixMilli()); err != nil {
				return fmt.Errorf("add zero-result query: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
		`, zeroResultRetention); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Counts sums one dimension's counters over the inclusive date range.
func (s *SQLiteMetricsStore) Counts(ctx context.Context, dim Dimension, from, to string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, SUM(count) FROM daily_counts
		WHERE dimension = ? AND date >= ? AND date <= ?
		GROUP BY key
	`, string(dim), from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", dim, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// TopTerms returns the most frequent terms, highest first.
func (s *SQLiteMetricsStore) TopTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// ZeroResults returns recent zero-result queries, newest first.
func (s *SQLiteMetricsStore) ZeroResults(ctx context.Context, limit int) ([]ZeroResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tree, query, at_ms FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var out []ZeroResult
	for rows.Next() {
		var z ZeroResult
		var ms int64
		if err := rows.Scan(&z.Tree, &z.Query, &ms); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		z.At = time.UnixMilli(ms).UTC()
		out = append(out, z)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteMetricsStore) Close() error {
	return s.db.Close()
}
