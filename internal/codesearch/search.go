package codesearch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/query"
)

var errMatchLimit = errors.New("match limit reached")

// SearcherConfig bounds each search.
type SearcherConfig struct {
	Tree       string
	MaxMatches int
	Threads    int
	Timeout    time.Duration
}

// Searcher answers daemon searches from a Store. It implements
// daemon.Handler.
type Searcher struct {
	store   *Store
	cfg     SearcherConfig
	files   []FileEntry
	stats   StoreStats
	path    string
	stamp   int64
	started time.Time
}

var _ daemon.Handler = (*Searcher)(nil)

// NewSearcher loads the file table of store.
func NewSearcher(ctx context.Context, store *Store, cfg SearcherConfig) (*Searcher, error) {
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = daemon.DefaultMaxMatches
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = daemon.DefaultSearchTimeout
	}

	files, err := store.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load file table: %w", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	if cfg.Tree == "" {
		cfg.Tree = stats.Tree
	}

	// Supervisors compare both against their config before attaching.
	path, err := filepath.Abs(store.Path())
	if err != nil {
		return nil, err
	}
	stamp, err := daemon.IndexStamp(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp %s: %w", path, err)
	}

	return &Searcher{
		store:   store,
		cfg:     cfg,
		files:   files,
		stats:   stats,
		path:    path,
		stamp:   stamp,
		started: time.Now(),
	}, nil
}

// Info describes the loaded index.
func (s *Searcher) Info() daemon.InfoResult {
	return daemon.InfoResult{
		Tree:       s.cfg.Tree,
		IndexPath:  s.path,
		IndexStamp: s.stamp,
		PID:        os.Getpid(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Files:      s.stats.Files,
		Lines:      s.stats.Lines,
	}
}

// Search scans every file matching params.File for lines matching
// params.Line. Files are split into contiguous shards scanned in parallel;
// the scan stops at MaxMatches or when the search timeout passes, and the
// partial result is returned with the matching exit reason.
func (s *Searcher) Search(ctx context.Context, params daemon.SearchParams) (*daemon.SearchReply, error) {
	start := time.Now()

	pattern := params.Line
	if params.FoldCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", daemon.ErrBadPattern, err)
	}
	contextLines := min(max(params.ContextLines, 0), query.MaxContextLines)

	candidates := s.files
	if params.File != "" {
		fileRe := index.CompilePathPattern(params.File)
		candidates = make([]FileEntry, 0, len(s.files))
		for _, f := range s.files {
			if fileRe.MatchString(f.Path) {
				candidates = append(candidates, f)
			}
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	shards := splitShards(candidates, s.cfg.Threads)
	results := make([][]daemon.Match, len(shards))
	var found atomic.Int64

	g, gctx := errgroup.WithContext(searchCtx)
	for i, shard := range shards {
		g.Go(func() error {
			for _, f := range shard {
				matches, err := s.scanFile(gctx, f, re, contextLines, &found)
				results[i] = append(results[i], matches...)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()

	exit := daemon.ExitNone
	switch {
	case err == nil:
	case errors.Is(err, errMatchLimit):
		exit = daemon.ExitMatchLimit
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case searchCtx.Err() != nil:
		exit = daemon.ExitTimeout
	default:
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var out []daemon.Match
	for _, r := range results {
		out = append(out, r...)
	}
	if len(out) > s.cfg.MaxMatches {
		out = out[:s.cfg.MaxMatches]
	}
	if out == nil {
		out = []daemon.Match{}
	}

	return &daemon.SearchReply{
		Results: out,
		Stats: daemon.SearchStats{
			ExitReason: exit,
			Files:      len(candidates),
			DurationMS: time.Since(start).Milliseconds(),
		},
	}, nil
}

// scanFile returns the matches in one file. Context before a match is
// listed nearest line first.
func (s *Searcher) scanFile(ctx context.Context, f FileEntry, re *regexp.Regexp, contextLines int, found *atomic.Int64) ([]daemon.Match, error) {
	var (
		matches []daemon.Match
		open    []int
		before  []string
		limited bool
	)

	err := s.store.ScanFile(ctx, f.ID, func(lno int, line string) bool {
		// trailing context for earlier matches
		kept := open[:0]
		for _, i := range open {
			matches[i].ContextAfter = append(matches[i].ContextAfter, line)
			if len(matches[i].ContextAfter) < contextLines {
				kept = append(kept, i)
			}
		}
		open = kept

		if loc := re.FindStringIndex(line); loc != nil {
			if found.Add(1) > int64(s.cfg.MaxMatches) {
				limited = true
				return false
			}
			m := daemon.Match{
				Path:       f.Path,
				Tree:       s.cfg.Tree,
				LineNumber: lno,
				Bounds:     daemon.Bounds{Left: loc[0], Right: loc[1]},
				Line:       line,
			}
			for j := len(before) - 1; j >= 0; j-- {
				m.ContextBefore = append(m.ContextBefore, before[j])
			}
			matches = append(matches, m)
			if contextLines > 0 {
				open = append(open, len(matches)-1)
			}
		}

		if contextLines > 0 {
			before = append(before, line)
			if len(before) > contextLines {
				before = before[1:]
			}
		}
		return true
	})
	if err != nil {
		return matches, err
	}
	if limited {
		return matches, errMatchLimit
	}
	return matches, nil
}

// splitShards cuts files into at most n contiguous, non-empty shards.
func splitShards(files []FileEntry, n int) [][]FileEntry {
	if len(files) == 0 {
		return nil
	}
	n = min(max(n, 1), len(files))
	shards := make([][]FileEntry, 0, n)
	size := (len(files) + n - 1) / n
	for lo := 0; lo < len(files); lo += size {
		shards = append(shards, files[lo:min(lo+size, len(files))])
	}
	return shards
}
