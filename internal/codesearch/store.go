// Package codesearch is the built-in full-text search daemon. It keeps every
// line of a tree in a SQLite file, scans it with regular expressions in
// parallel shards and serves the daemon JSON-RPC protocol, so a tree can be
// searched without an external trigram engine.
package codesearch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// SchemaVersion is the on-disk layout version of full-text stores. Stores
// written with another version must be rebuilt.
const SchemaVersion = 1

// Store is the on-disk line table of one tree.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// FileEntry is one indexed file.
type FileEntry struct {
	ID   int64
	Path string
}

// StoreStats summarizes a store.
type StoreStats struct {
	Tree  string
	Files int64
	Lines int64
}

// CreateStore creates (or truncates) a writable store at path.
func CreateStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove old index %s: %w", path+suffix, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// A failed build is rebuilt from scratch, so the build needs no journal.
	// It also leaves no -wal file behind for read-only openers.
	pragmas := []string{
		"PRAGMA journal_mode = OFF",
		"PRAGMA synchronous = OFF",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenStore opens an existing store read-only. conns bounds the number of
// shards that can scan concurrently.
func OpenStore(path string, conns int) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, xerrors.New(xerrors.ErrCodeIndexMissing, fmt.Sprintf("codesearch index %s not found", path), err).
			WithSuggestion("build it with: xrefsearch codesearch build")
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conns = max(conns, 1)
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		_ = db.Close()
		return nil, xerrors.New(xerrors.ErrCodeCorruptIndex, fmt.Sprintf("codesearch index %s is unreadable", path), err)
	}
	if version != SchemaVersion {
		_ = db.Close()
		return nil, xerrors.New(xerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("codesearch index %s has schema version %d, want %d", path, version, SchemaVersion), nil).
			WithSuggestion("rebuild the index")
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id   INTEGER PRIMARY KEY,
		path TEXT NOT NULL UNIQUE
	);

	-- one row per source line, clustered by file so a shard scan reads
	-- each file's lines in order
	CREATE TABLE IF NOT EXISTS lines (
		file_id INTEGER NOT NULL,
		lno     INTEGER NOT NULL,
		line    TEXT NOT NULL,
		PRIMARY KEY (file_id, lno)
	) WITHOUT ROWID;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, SchemaVersion)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetMeta records a key/value pair such as the tree name.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	return err
}

// Meta returns the value of key, or "" when absent.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// AddFile stores path and its lines in one transaction.
func (s *Store) AddFile(ctx context.Context, path string, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO files (path) VALUES (?)`, path)
	if err != nil {
		return fmt.Errorf("failed to add file %s: %w", path, err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO lines (file_id, lno, line) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare line statement: %w", err)
	}
	defer stmt.Close()

	for i, line := range lines {
		if _, err := stmt.ExecContext(ctx, fileID, i+1, line); err != nil {
			return fmt.Errorf("failed to add %s:%d: %w", path, i+1, err)
		}
	}
	return tx.Commit()
}

// Files lists every file in id order.
func (s *Store) Files(ctx context.Context) ([]FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, path FROM files ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.ID, &f.Path); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ScanFile calls fn for each line of file id in line order. fn returning
// false stops the scan.
func (s *Store) ScanFile(ctx context.Context, id int64, fn func(lno int, line string) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT lno, line FROM lines WHERE file_id = ? ORDER BY lno`, id)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var lno int
		var line string
		if err := rows.Scan(&lno, &line); err != nil {
			return err
		}
		if !fn(lno, line) {
			return nil
		}
	}
	return rows.Err()
}

// Stats counts files and lines.
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	tree, err := s.Meta(ctx, metaTree)
	if err != nil {
		return st, err
	}
	st.Tree = tree

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&st.Files); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lines`).Scan(&st.Lines); err != nil {
		return st, err
	}
	return st, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		slog.Warn("failed to close codesearch store", slog.String("path", s.path), slog.String("error", err.Error()))
		return err
	}
	return nil
}
