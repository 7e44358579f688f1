// Package search answers tree queries. It dispatches a parsed query to the
// crossref, identifier, file-list and full-text backends, then merges what
// they return into one bounded response grouped by path kind and result
// kind, in a fixed precedence order.
package search

import (
	"bytes"
	"encoding/json"

	"github.com/Aman-CERP/xrefsearch/internal/index"
)

// Result kinds, the display keys of a response.
const (
	KindFiles           = "Files"
	KindIDL             = "IDL"
	KindDefinitions     = "Definitions"
	KindOverrides       = "Overrides"
	KindOverriddenBy    = "Overridden By"
	KindSuperclasses    = "Superclasses"
	KindSubclasses      = "Subclasses"
	KindBindings        = "Bindings"
	KindAliases         = "Aliases"
	KindAssignments     = "Assignments"
	KindUses            = "Uses"
	KindDeclarations    = "Declarations"
	KindTextOccurrences = "Textual Occurrences"
)

// kindPrecedence is the emission order of result kinds. A line emitted
// under an earlier kind is not repeated under a later one.
var kindPrecedence = []string{
	KindFiles,
	KindIDL,
	KindDefinitions,
	KindOverrides,
	KindOverriddenBy,
	KindSuperclasses,
	KindSubclasses,
	KindBindings,
	KindAliases,
	KindAssignments,
	KindUses,
	KindDeclarations,
	KindTextOccurrences,
}

// Keyed is a batch of path hits keyed by result kind.
type Keyed map[string][]index.PathHit

// LineFixup adjusts a line as it is emitted. The zero value leaves lines
// alone.
type LineFixup struct {
	truncate int
}

// NoFixup leaves lines unchanged.
var NoFixup = LineFixup{}

// TruncateBounds narrows a line's highlight to its first n bytes, so a
// prefix match highlights only the typed prefix.
func TruncateBounds(n int) LineFixup {
	return LineFixup{truncate: n}
}

// Apply returns line with the fixup applied. line is not modified.
func (f LineFixup) Apply(line index.LineHit) index.LineHit {
	if f.truncate <= 0 || line.Bounds == nil {
		return line
	}
	start := line.Bounds[0]
	line.Bounds = &index.Bounds{start, start + f.truncate}
	return line
}

// KindGroup is the hits of one qualified kind, such as "Definitions" or
// "Uses (nsIFoo::Bar)".
type KindGroup struct {
	Kind  string
	Paths []index.PathHit
}

// PathKindGroup is the kind groups of one path kind.
type PathKindGroup struct {
	PathKind string
	Kinds    []KindGroup
}

// Grouped is the emitted result tree, in emission order.
type Grouped []PathKindGroup

// Count returns the number of lines, counting a path without lines as one.
func (g Grouped) Count() int {
	n := 0
	for _, pk := range g {
		for _, k := range pk.Kinds {
			for _, p := range k.Paths {
				n += max(len(p.Lines), 1)
			}
		}
	}
	return n
}

// Response is the result of one search.
type Response struct {
	Groups   Grouped
	Title    string
	TimedOut bool
	Limits   []string

	// Trivial responses encode as {}.
	Trivial bool
}

// Empty reports whether the response carries no hits.
func (r *Response) Empty() bool {
	return len(r.Groups) == 0
}

// MarshalJSON writes the response as
// {pathkind: {kind: [{path, lines}]}, "*title*", "*timedout*", "*limits*"}
// keeping emission order.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Trivial {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, pk := range r.Groups {
		if err := writeKey(&buf, pk.PathKind); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for i, k := range pk.Kinds {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, k.Kind); err != nil {
				return nil, err
			}
			paths, err := json.Marshal(k.Paths)
			if err != nil {
				return nil, err
			}
			buf.Write(paths)
		}
		buf.WriteString("},")
	}

	limits := r.Limits
	if limits == nil {
		limits = []string{}
	}
	tail, err := json.Marshal(struct {
		Title    string   `json:"*title*"`
		TimedOut bool     `json:"*timedout*"`
		Limits   []string `json:"*limits*"`
	}{r.Title, r.TimedOut, limits})
	if err != nil {
		return nil, err
	}
	// splice the tail object's members in
	buf.Write(tail[1:])
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}
