package query

import (
	"net/url"
	"strconv"
	"strings"
)

// MaxContextLines bounds the context: modifier.
const MaxContextLines = 10

// trivialLength is the clause length below which a search is too broad to run.
const trivialLength = 3

// Clause identifies a recognized part of a search string.
type Clause uint8

const (
	ClauseSymbol Clause = 1 << iota
	ClauseRegex
	ClauseIdentifier
	ClauseDefault
	ClausePath
	ClauseContext
)

// Intent is the single backend strategy a query dispatches to.
type Intent int

const (
	IntentNone Intent = iota
	IntentSymbol
	IntentRegex
	IntentIdentifier
	IntentFreeText
	IntentPathOnly
)

var intentNames = [...]string{"none", "symbol", "regex", "identifier", "free_text", "path_only"}

// String returns the intent name used in logs and metrics.
func (i Intent) String() string {
	if i < 0 || int(i) >= len(intentNames) {
		return "unknown"
	}
	return intentNames[i]
}

// Query is a parsed search. Only clauses reported by Has carry meaning.
type Query struct {
	// Raw is the search string as typed.
	Raw string

	Symbol     string
	Regex      string
	Identifier string
	// Default is the free text, already escaped to a regex.
	Default string
	// PathRe is a case-insensitive regex over repository paths.
	PathRe string

	ContextLines int
	FoldCase     bool

	// pathParam is the glob from the request's path parameter, kept for
	// the response title.
	pathParam string
	clauses   Clause
}

// Has reports whether the clause was present in the search.
func (q *Query) Has(c Clause) bool {
	return q.clauses&c != 0
}

func (q *Query) set(c Clause)   { q.clauses |= c }
func (q *Query) unset(c Clause) { q.clauses &^= c }

// Parse scans a search string left to right, splitting on single spaces.
// symbol:, re:, text: and free text consume the rest of the string; path:,
// pathre:, context: and id: take one token each.
func Parse(search string) *Query {
	q := &Query{Raw: search, FoldCase: true}
	pieces := strings.Split(search, " ")

	for i, piece := range pieces {
		rest := strings.Join(pieces[i:], " ")

		switch {
		case strings.HasPrefix(piece, "path:"):
			q.PathRe = GlobToRegex(strings.TrimPrefix(piece, "path:"))
			q.set(ClausePath)
		case strings.HasPrefix(piece, "pathre:"):
			q.PathRe = strings.TrimPrefix(piece, "pathre:")
			q.set(ClausePath)
		case strings.HasPrefix(piece, "context:"):
			n, err := strconv.Atoi(strings.TrimPrefix(piece, "context:"))
			if err != nil {
				continue
			}
			q.ContextLines = min(max(n, 0), MaxContextLines)
			q.set(ClauseContext)
		case strings.HasPrefix(piece, "symbol:"):
			sym := strings.TrimSpace(strings.TrimPrefix(rest, "symbol:"))
			q.Symbol = strings.ReplaceAll(sym, ".", "#")
			q.set(ClauseSymbol)
			return q
		case strings.HasPrefix(piece, "re:"):
			q.Regex = strings.TrimPrefix(rest, "re:")
			q.set(ClauseRegex)
			return q
		case strings.HasPrefix(piece, "text:"):
			q.Regex = EscapeRegex(strings.TrimPrefix(rest, "text:"))
			q.set(ClauseRegex)
			return q
		case strings.HasPrefix(piece, "id:"):
			q.Identifier = strings.TrimPrefix(piece, "id:")
			q.set(ClauseIdentifier)
		default:
			q.Default = EscapeRegex(rest)
			q.set(ClauseDefault)
			return q
		}
	}
	return q
}

// Request carries the URL parameters of a search request.
type Request struct {
	Q             string
	CaseSensitive bool
	Regexp        bool
	Path          string
}

// RequestFromValues reads q, case, regexp and path from URL query values.
func RequestFromValues(v url.Values) Request {
	return Request{
		Q:             v.Get("q"),
		CaseSensitive: v.Get("case") == "true",
		Regexp:        v.Get("regexp") == "true",
		Path:          v.Get("path"),
	}
}

// ParseRequest parses r.Q and applies the request modifiers: a path glob
// overrides any path clause, regexp=true treats the whole search string as
// a regex, and case=true turns off case folding.
func ParseRequest(r Request) *Query {
	q := Parse(r.Q)
	q.FoldCase = !r.CaseSensitive
	q.pathParam = r.Path

	if r.Path != "" {
		q.PathRe = GlobToRegex(r.Path)
		q.set(ClausePath)
	}
	if r.Regexp {
		q.Default = ""
		q.unset(ClauseDefault)
		q.Regex = r.Q
		q.set(ClauseRegex)
	}
	if q.Has(ClauseDefault) && q.Default == "" {
		q.unset(ClauseDefault)
	}
	return q
}

// IsTrivial reports whether the query is too short to run. A symbol clause
// is never trivial; otherwise every clause but context must be shorter
// than three characters.
func (q *Query) IsTrivial() bool {
	if q.Has(ClauseSymbol) {
		return false
	}
	checks := []struct {
		c Clause
		s string
	}{
		{ClauseRegex, q.Regex},
		{ClauseIdentifier, q.Identifier},
		{ClauseDefault, q.Default},
		{ClausePath, q.PathRe},
	}
	for _, ch := range checks {
		if q.Has(ch.c) && len(ch.s) >= trivialLength {
			return false
		}
	}
	return true
}

// Intent picks the backend strategy. symbol wins over re, re over id, id
// over free text; a lone path clause searches file names.
func (q *Query) Intent() Intent {
	switch {
	case q.Has(ClauseSymbol):
		return IntentSymbol
	case q.Has(ClauseRegex):
		return IntentRegex
	case q.Has(ClauseIdentifier):
		return IntentIdentifier
	case q.Has(ClauseDefault):
		return IntentFreeText
	case q.Has(ClausePath):
		return IntentPathOnly
	default:
		return IntentNone
	}
}

// Title is the human-readable heading for the response.
func (q *Query) Title() string {
	if q.Has(ClauseSymbol) {
		return "Symbol " + q.Symbol
	}
	if q.Raw == "" {
		return "Files " + q.pathParam
	}
	return q.Raw
}
