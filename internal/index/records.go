package index

import (
	"encoding/json"
	"fmt"
)

// RelationKind is a key of a crossref record.
type RelationKind int

const (
	RelUses RelationKind = iota
	RelDefs
	RelAssignments
	RelDecls
	RelIDL
	RelAliases
	RelFieldMemberUses
	RelCallees
	RelConsumes
	RelMeta
)

var relationNames = [...]string{
	RelUses:            "uses",
	RelDefs:            "defs",
	RelAssignments:     "assignments",
	RelDecls:           "decls",
	RelIDL:             "idl",
	RelAliases:         "aliases",
	RelFieldMemberUses: "field-member-uses",
	RelCallees:         "callees",
	RelConsumes:        "consumes",
	RelMeta:            "meta",
}

// String returns the on-disk key of the relation.
func (k RelationKind) String() string {
	if k < 0 || int(k) >= len(relationNames) {
		return fmt.Sprintf("relation(%d)", int(k))
	}
	return relationNames[k]
}

// ParseRelationKind maps an on-disk key to its RelationKind.
func ParseRelationKind(s string) (RelationKind, bool) {
	for i, name := range relationNames {
		if name == s {
			return RelationKind(i), true
		}
	}
	return 0, false
}

// HasPathHits reports whether the relation's payload is a []PathHit.
func (k RelationKind) HasPathHits() bool {
	switch k {
	case RelUses, RelDefs, RelAssignments, RelDecls, RelIDL, RelAliases, RelFieldMemberUses:
		return true
	default:
		return false
	}
}

// Bounds are the [start, end) columns of the match within a line.
type Bounds [2]int

// LineHit is a single matching line.
type LineHit struct {
	Lno           int             `json:"lno"`
	Bounds        *Bounds         `json:"bounds,omitempty"`
	Line          string          `json:"line"`
	Context       string          `json:"context,omitempty"`
	ContextSym    string          `json:"contextsym,omitempty"`
	PeekRange     json.RawMessage `json:"peekRange,omitempty"`
	Upsearch      string          `json:"upsearch,omitempty"`
	ContextBefore []string        `json:"context_before,omitempty"`
	ContextAfter  []string        `json:"context_after,omitempty"`
}

// PathHit groups the line hits of one file.
type PathHit struct {
	Path  string    `json:"path"`
	Lines []LineHit `json:"lines"`
}

// SymbolRef names a related symbol. The index writes it either as a bare
// symbol string or as {"sym": ..., "pretty": ...}.
type SymbolRef struct {
	Sym    string `json:"sym"`
	Pretty string `json:"pretty,omitempty"`
}

// UnmarshalJSON accepts both encodings.
func (r *SymbolRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		r.Pretty = ""
		return json.Unmarshal(b, &r.Sym)
	}
	type plain SymbolRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = SymbolRef(p)
	return nil
}

// Slot is a binding slot linking an IDL symbol to its language bindings.
type Slot struct {
	Sym       string `json:"sym"`
	OwnerLang string `json:"ownerLang"`
	SlotKind  string `json:"slotKind,omitempty"`
	SlotLang  string `json:"slotLang,omitempty"`
}

// Meta is the structural metadata of a symbol.
type Meta struct {
	Pretty       string      `json:"pretty,omitempty"`
	Sym          string      `json:"sym,omitempty"`
	Kind         string      `json:"kind,omitempty"`
	Overrides    []SymbolRef `json:"overrides,omitempty"`
	OverriddenBy []SymbolRef `json:"overriddenBy,omitempty"`
	Supers       []SymbolRef `json:"supers,omitempty"`
	Subclasses   []SymbolRef `json:"subclasses,omitempty"`
	SlotOwner    *Slot       `json:"slotOwner,omitempty"`
	BindingSlots []Slot      `json:"bindingSlots,omitempty"`
}

// Record is a decoded crossref entry. Records may be shared through the
// record cache and must be treated as immutable.
type Record struct {
	Symbol   string
	Hits     map[RelationKind][]PathHit
	Meta     *Meta
	MetaRaw  json.RawMessage
	Consumes json.RawMessage
}

func decodeRecord(symbol string, data []byte) (*Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	rec := &Record{Symbol: symbol, Hits: make(map[RelationKind][]PathHit, len(raw))}
	for key, value := range raw {
		kind, ok := ParseRelationKind(key)
		if !ok {
			continue
		}
		switch {
		case kind.HasPathHits():
			var hits []PathHit
			if err := json.Unmarshal(value, &hits); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			rec.Hits[kind] = hits
		case kind == RelMeta:
			var meta Meta
			if err := json.Unmarshal(value, &meta); err != nil {
				return nil, fmt.Errorf("decode meta: %w", err)
			}
			rec.Meta = &meta
			rec.MetaRaw = value
		case kind == RelConsumes:
			rec.Consumes = value
		}
	}
	return rec, nil
}

// Merged is the union of several records' relations.
type Merged struct {
	Hits  map[RelationKind][]PathHit
	Metas []*Meta
}

// Empty reports whether the merge produced nothing.
func (m *Merged) Empty() bool {
	return m == nil || (len(m.Hits) == 0 && len(m.Metas) == 0)
}

// add appends rec's relations. Callees are not part of any search view.
func (m *Merged) add(rec *Record) {
	if m.Hits == nil {
		m.Hits = make(map[RelationKind][]PathHit)
	}
	for kind, hits := range rec.Hits {
		if kind == RelCallees {
			continue
		}
		m.Hits[kind] = append(m.Hits[kind], hits...)
	}
	if rec.Meta != nil {
		m.Metas = append(m.Metas, rec.Meta)
	}
}
