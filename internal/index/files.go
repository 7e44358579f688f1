package index

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// FileList is the set of repository paths a tree knows about, one per line,
// drawn from repo-files and objdir-files.
type FileList struct {
	files []*mappedFile
}

// OpenFileList maps each existing path. Missing lists are skipped (a tree
// without an object directory has no objdir-files).
func OpenFileList(paths ...string) (*FileList, error) {
	fl := &FileList{}
	for _, p := range paths {
		mf, err := openMapped(p)
		if err != nil {
			if xerrors.GetCode(err) == xerrors.ErrCodeIndexMissing {
				slog.Debug("file list missing", slog.String("path", p))
				continue
			}
			_ = fl.Close()
			return nil, err
		}
		fl.files = append(fl.files, mf)
	}
	return fl, nil
}

// Close unmaps every list.
func (fl *FileList) Close() error {
	var first error
	for _, mf := range fl.files {
		if err := mf.Close(); err != nil && first == nil {
			first = err
		}
	}
	fl.files = nil
	return first
}

// CompilePathPattern compiles a case-insensitive path regex. A pattern that
// does not compile is matched literally instead.
func CompilePathPattern(pattern string) *regexp.Regexp {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
	}
	return re
}

// Grep returns the paths matching pattern case-insensitively, at most limit
// of them, along with the total number of matches seen.
func (fl *FileList) Grep(ctx context.Context, pattern string, limit int) ([]string, int, error) {
	re := CompilePathPattern(pattern)

	var (
		out   []string
		total int
		lines int
	)
	for _, mf := range fl.files {
		data := mf.Bytes()
		for len(data) > 0 {
			lines++
			if lines%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, 0, err
				}
			}

			line := data
			if i := bytes.IndexByte(data, '\n'); i >= 0 {
				line, data = data[:i], data[i+1:]
			} else {
				data = nil
			}
			if len(line) == 0 || !re.Match(line) {
				continue
			}
			total++
			if limit <= 0 || len(out) < limit {
				out = append(out, string(line))
			}
		}
	}
	return out, total, nil
}
