package index

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// File names inside a tree's index directory.
const (
	CrossrefFile      = "crossref"
	CrossrefExtraFile = "crossref-extra"
	IdentifiersFile   = "identifiers"
	RepoFilesFile     = "repo-files"
	ObjdirFilesFile   = "objdir-files"
)

const (
	idMarker      = '!'
	inlinePayload = ':'
	extraPayload  = '@'
)

// DefaultRecordCacheSize is the number of decoded records kept per tree.
const DefaultRecordCacheSize = 4096

// Crossref answers exact symbol lookups against the crossref file pair.
//
// The crossref file is a sequence of two-line records, an identifier line
// "!<symbol>" followed by a payload line that is either ":<json>" or
// "@<hex offset> <hex length>" pointing into crossref-extra. Records are
// sorted bytewise by symbol, which is what makes bisection possible.
type Crossref struct {
	inline *mappedFile
	extra  *mappedFile
	cache  *lru.Cache[string, *Record]
}

// CrossrefOption configures OpenCrossref.
type CrossrefOption func(*crossrefOptions)

type crossrefOptions struct {
	cacheSize int
}

// WithRecordCache sets the decoded-record cache size. Zero disables it.
func WithRecordCache(size int) CrossrefOption {
	return func(o *crossrefOptions) { o.cacheSize = size }
}

// OpenCrossref maps dir/crossref and dir/crossref-extra. A missing extra file
// is tolerated; records pointing into it then resolve to "not found".
func OpenCrossref(dir string, opts ...CrossrefOption) (*Crossref, error) {
	o := crossrefOptions{cacheSize: DefaultRecordCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	inline, err := openMapped(filepath.Join(dir, CrossrefFile))
	if err != nil {
		return nil, err
	}

	extra, err := openMapped(filepath.Join(dir, CrossrefExtraFile))
	if err != nil {
		if xerrors.GetCode(err) != xerrors.ErrCodeIndexMissing {
			_ = inline.Close()
			return nil, err
		}
		slog.Warn("crossref-extra missing, external payloads unavailable", slog.String("dir", dir))
		extra = nil
	}

	c := &Crossref{inline: inline, extra: extra}
	if o.cacheSize > 0 {
		cache, err := lru.New[string, *Record](o.cacheSize)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("create record cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close unmaps both files.
func (c *Crossref) Close() error {
	err := c.inline.Close()
	if extraErr := c.extra.Close(); err == nil {
		err = extraErr
	}
	return err
}

// Lookup returns the record for symbol, or (nil, nil) when it is absent.
// A payload that cannot be decoded is logged and reported as absent.
func (c *Crossref) Lookup(ctx context.Context, symbol string) (*Record, error) {
	if c.cache != nil {
		if rec, ok := c.cache.Get(symbol); ok {
			return rec, nil
		}
	}

	payload, err := bisectForPayload(ctx, c.inline.Bytes(), []byte(symbol))
	if err != nil || payload == nil {
		return nil, err
	}

	data, err := c.resolvePayload(payload)
	if err != nil {
		slog.Warn("crossref payload unreadable",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return nil, nil
	}

	rec, err := decodeRecord(symbol, data)
	if err != nil {
		slog.Warn("crossref payload is not valid JSON",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return nil, nil
	}

	if c.cache != nil {
		c.cache.Add(symbol, rec)
	}
	return rec, nil
}

// LookupMerging looks up each comma-separated symbol and unions their
// relations. If any symbol is missing the result is empty: a partial answer
// would hide a stale query or an indexing bug.
func (c *Crossref) LookupMerging(ctx context.Context, symbols string) (*Merged, error) {
	merged := &Merged{}
	var records []*Record
	for _, sym := range strings.Split(symbols, ",") {
		rec, err := c.Lookup(ctx, sym)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			slog.Debug("merge aborted on missing symbol", slog.String("symbol", sym))
			return &Merged{}, nil
		}
		records = append(records, rec)
	}
	for _, rec := range records {
		merged.add(rec)
	}
	return merged, nil
}

// resolvePayload turns a payload line (without its newline) into JSON bytes.
func (c *Crossref) resolvePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, xerrors.ErrCorruptIndex
	}

	switch payload[0] {
	case inlinePayload:
		return payload[1:], nil
	case extraPayload:
		offStr, lenStr, ok := strings.Cut(strings.TrimSpace(string(payload[1:])), " ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed pointer %q", xerrors.ErrCorruptIndex, payload)
		}
		off, err := strconv.ParseInt(offStr, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %q", xerrors.ErrCorruptIndex, offStr)
		}
		length, err := strconv.ParseInt(lenStr, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: length %q", xerrors.ErrCorruptIndex, lenStr)
		}
		extra := c.extra.Bytes()
		// length counts the trailing newline
		end := off + length - 1
		if off < 0 || length < 1 || end > int64(len(extra)) {
			return nil, fmt.Errorf("%w: pointer %x+%x outside crossref-extra", xerrors.ErrCorruptIndex, off, length)
		}
		return extra[off:end], nil
	default:
		return nil, fmt.Errorf("%w: payload marker %q", xerrors.ErrCorruptIndex, payload[0])
	}
}

// getIDLine returns the identifier line covering pos as (symbol, start of
// the '!' line, index of its terminating newline). pos may fall anywhere in
// an identifier line or in the payload line after it, so the scan only ever
// walks backwards to find the identifier.
func getIDLine(mm []byte, pos int) (sym []byte, start, end int) {
	// a line's trailing newline belongs to that line
	if mm[pos] == '\n' && pos > 0 {
		pos--
	}

	start, end = pos, pos
	for start > 0 {
		if mm[start-1] == '\n' {
			if mm[start] == idMarker {
				break
			}
			// payload line; the identifier line ends at this newline
			end = start - 1
		}
		start--
	}

	if i := bytes.IndexByte(mm[end:], '\n'); i >= 0 {
		end += i
	} else {
		end = len(mm)
	}

	return mm[min(start+1, end):end], start, end
}

// bisectForPayload finds the exact record for needle and returns its payload
// line without the trailing newline. The search runs over byte offsets since
// records are variable length. (nil, nil) means not found.
func bisectForPayload(ctx context.Context, mm []byte, needle []byte) ([]byte, error) {
	first := 0
	count := len(mm)
	for count > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step := count / 2
		pos := first + step
		sym, lineStart, lineEnd := getIDLine(mm, pos)

		switch cmp := bytes.Compare(sym, needle); {
		case cmp == 0:
			if lineEnd+1 >= len(mm) {
				return nil, nil
			}
			rest := mm[lineEnd+1:]
			if i := bytes.IndexByte(rest, '\n'); i >= 0 {
				rest = rest[:i]
			}
			return rest, nil
		case cmp < 0:
			// skip the payload line as well so every step makes progress
			next := -1
			if lineEnd+1 < len(mm) {
				if i := bytes.IndexByte(mm[lineEnd+1:], '\n'); i >= 0 {
					next = lineEnd + 1 + i
				}
			}
			if next < 0 {
				return nil, nil
			}
			first = next + 1
			count -= step + (first - pos)
		default:
			count = step - (pos - lineStart)
		}
	}
	return nil, nil
}
