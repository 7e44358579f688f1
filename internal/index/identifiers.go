package index

import (
	"bytes"
	"context"
	"strings"
)

// DefaultIdentifierLimit caps how many identifiers a single lookup returns.
const DefaultIdentifierLimit = 500

// IdentifierMatch is one row of the identifiers file.
type IdentifierMatch struct {
	Qualified string
	Symbol    string
}

// Identifiers answers prefix lookups against the identifiers file, whose
// lines are "<qualified name> <symbol>" sorted by their uppercased text.
// Uppercasing maps each rune with unicode.ToUpper, so expansions such as
// "ß" to "SS" are not applied.
type Identifiers struct {
	mf *mappedFile
}

// OpenIdentifiers maps the identifiers file at path.
func OpenIdentifiers(path string) (*Identifiers, error) {
	mf, err := openMapped(path)
	if err != nil {
		return nil, err
	}
	return &Identifiers{mf: mf}, nil
}

// Close unmaps the file.
func (ix *Identifiers) Close() error {
	return ix.mf.Close()
}

// Lookup returns identifiers whose qualified name starts with needle.
//
// Names with a further "." or ":" after the needle are nested members and
// are skipped. complete requires the name to equal the needle. When foldCase
// is false the prefix must match case-sensitively. At most limit matches are
// returned, in file order; limit <= 0 means DefaultIdentifierLimit.
func (ix *Identifiers) Lookup(ctx context.Context, needle string, complete, foldCase bool, limit int) ([]IdentifierMatch, error) {
	mm := ix.mf.Bytes()
	if len(mm) == 0 || needle == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultIdentifierLimit
	}

	first, err := bisectLines(ctx, mm, []byte(needle), false)
	if err != nil {
		return nil, err
	}
	last, err := bisectLines(ctx, mm, []byte(needle+"~"), true)
	if err != nil {
		return nil, err
	}

	var out []IdentifierMatch
	for pos := first; pos < last && pos < len(mm); {
		end := bytes.IndexByte(mm[pos:], '\n')
		if end < 0 {
			end = len(mm)
		} else {
			end += pos
		}
		line := string(bytes.TrimSpace(mm[pos:end]))
		pos = end + 1

		qualified, symbol, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if head, _, found := strings.Cut(symbol, " "); found {
			symbol = head
		}

		var suffix string
		if len(qualified) > len(needle) {
			suffix = qualified[len(needle):]
		}
		if strings.ContainsAny(suffix, ":.") || (complete && suffix != "") {
			continue
		}
		if !foldCase && !strings.HasPrefix(qualified, needle) {
			continue
		}

		out = append(out, IdentifierMatch{Qualified: qualified, Symbol: symbol})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// bisectLines returns the offset of the first line whose uppercased text is
// >= needle, or > needle when upperBound is set. Every byte of a line,
// including its newline, compares like the line itself, so the predicate is
// monotone over byte offsets and the result is always a line start.
func bisectLines(ctx context.Context, mm []byte, needle []byte, upperBound bool) (int, error) {
	needle = bytes.ToUpper(needle)

	first := 0
	count := len(mm)
	for count > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		step := count / 2
		pos := first + step

		cmp := bytes.Compare(bytes.ToUpper(getLine(mm, pos)), needle)
		if cmp < 0 || (upperBound && cmp == 0) {
			first = pos + 1
			count -= step + 1
		} else {
			count = step
		}
	}
	return first, nil
}

func getLine(mm []byte, pos int) []byte {
	if mm[pos] == '\n' && pos > 0 {
		pos--
	}
	start := bytes.LastIndexByte(mm[:pos+1], '\n') + 1
	if mm[pos] == '\n' {
		// empty line
		return mm[pos:pos]
	}
	end := bytes.IndexByte(mm[pos:], '\n')
	if end < 0 {
		return mm[start:]
	}
	return mm[start : pos+end]
}
