package codesearch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	metaTree    = "tree"
	metaBuiltAt = "built_at"

	// DefaultMaxFileSize skips files larger than this when building.
	DefaultMaxFileSize = 2 << 20

	binarySniffLen = 8000
)

// BuildOptions configures Build.
type BuildOptions struct {
	// Root is the source checkout the file list is relative to.
	Root string
	// Files lists the paths to index, relative to Root.
	Files []string
	// Out is the store file to create.
	Out string
	// Tree is recorded in the store and reported by info.
	Tree string
	// MaxFileSize skips larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int64
	// Workers bounds concurrent file reads. Zero means NumCPU.
	Workers int
}

// BuildStats reports what Build indexed.
type BuildStats struct {
	Files    int
	Lines    int
	Skipped  int
	Duration time.Duration
}

type loadedFile struct {
	path  string
	lines []string
	skip  string
}

// Build reads every listed file and writes its lines to a new store.
// Unreadable, oversized and binary files are skipped with a log entry.
func Build(ctx context.Context, opts BuildOptions) (BuildStats, error) {
	start := time.Now()
	var stats BuildStats

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	store, err := CreateStore(opts.Out)
	if err != nil {
		return stats, err
	}
	defer func() { _ = store.Close() }()

	if err := store.SetMeta(ctx, metaTree, opts.Tree); err != nil {
		return stats, fmt.Errorf("failed to record tree: %w", err)
	}

	// Files are read in parallel a batch at a time and written in list
	// order, so file ids follow the list.
	batchSize := opts.Workers * 4
	for lo := 0; lo < len(opts.Files); lo += batchSize {
		hi := min(lo+batchSize, len(opts.Files))
		batch := make([]loadedFile, hi-lo)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i, rel := range opts.Files[lo:hi] {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				batch[i] = loadFile(opts.Root, rel, opts.MaxFileSize)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		for _, f := range batch {
			if f.skip != "" {
				stats.Skipped++
				slog.Debug("codesearch build skipped file",
					slog.String("path", f.path),
					slog.String("reason", f.skip))
				continue
			}
			if err := store.AddFile(ctx, f.path, f.lines); err != nil {
				return stats, err
			}
			stats.Files++
			stats.Lines += len(f.lines)
		}
	}

	if err := store.SetMeta(ctx, metaBuiltAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	slog.Info("codesearch index built",
		slog.String("tree", opts.Tree),
		slog.String("out", opts.Out),
		slog.Int("files", stats.Files),
		slog.Int("lines", stats.Lines),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func loadFile(root, rel string, maxSize int64) loadedFile {
	f := loadedFile{path: rel}

	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	switch {
	case err != nil:
		f.skip = err.Error()
		return f
	case !info.Mode().IsRegular():
		f.skip = "not a regular file"
		return f
	case info.Size() > maxSize:
		f.skip = "too large"
		return f
	}

	data, err := os.ReadFile(full)
	if err != nil {
		f.skip = err.Error()
		return f
	}
	if bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0 {
		f.skip = "binary"
		return f
	}

	f.lines = splitLines(string(data))
	return f
}

// splitLines splits on newlines. A trailing newline does not start an
// extra empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ReadFileList reads one path per line, skipping blank lines.
func ReadFileList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, scanner.Err()
}
