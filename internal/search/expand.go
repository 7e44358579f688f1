package search

import (
	"context"

	"github.com/Aman-CERP/xrefsearch/internal/index"
)

// maxRelatedSymbols is the largest candidate list expanded into a related
// kind such as "Subclasses". Longer lists are skipped.
const maxRelatedSymbols = 50

// relationKinds maps crossref relations to result kinds. Relations not
// listed are not shown in search results.
var relationKinds = map[index.RelationKind]string{
	index.RelUses:        KindUses,
	index.RelDefs:        KindDefinitions,
	index.RelAssignments: KindAssignments,
	index.RelDecls:       KindDeclarations,
	index.RelIDL:         KindIDL,
	index.RelAliases:     KindAliases,
}

// SymbolLookup resolves a single symbol to its crossref record.
type SymbolLookup interface {
	Lookup(ctx context.Context, symbol string) (*index.Record, error)
}

// Expand converts merged crossref data into result kinds. With traverse
// set, each symbol's metadata also pulls in the definitions of related
// symbols: what it overrides and is overridden by, its superclasses and
// subclasses, and its binding slots. Related symbols are expanded one
// level deep only.
func Expand(ctx context.Context, lookup SymbolLookup, merged *index.Merged, traverse bool) (Keyed, error) {
	out := make(Keyed)
	if merged.Empty() {
		return out, nil
	}

	for rel, hits := range merged.Hits {
		kind, ok := relationKinds[rel]
		if !ok || len(hits) == 0 {
			continue
		}
		out[kind] = append(out[kind], hits...)
	}

	if !traverse {
		return out, nil
	}

	for _, meta := range merged.Metas {
		if err := expandMeta(ctx, lookup, out, meta); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func expandMeta(ctx context.Context, lookup SymbolLookup, out Keyed, meta *index.Meta) error {
	related := []struct {
		refs []index.SymbolRef
		kind string
	}{
		{meta.Overrides, KindOverrides},
		{meta.OverriddenBy, KindOverriddenBy},
		{meta.Supers, KindSuperclasses},
		{meta.Subclasses, KindSubclasses},
	}
	for _, r := range related {
		if err := mergeDefs(ctx, lookup, out, refSymbols(r.refs), r.kind); err != nil {
			return err
		}
	}

	if owner := meta.SlotOwner; owner != nil {
		kind := KindDefinitions
		if owner.OwnerLang == "idl" {
			kind = KindIDL
		}
		if err := mergeDefs(ctx, lookup, out, []string{owner.Sym}, kind); err != nil {
			return err
		}
	}

	if len(meta.BindingSlots) > 0 {
		var idl, other []string
		for _, slot := range meta.BindingSlots {
			if slot.OwnerLang == "idl" {
				idl = append(idl, slot.Sym)
			} else {
				other = append(other, slot.Sym)
			}
		}
		if err := mergeDefs(ctx, lookup, out, idl, KindDefinitions); err != nil {
			return err
		}
		if err := mergeDefs(ctx, lookup, out, other, KindBindings); err != nil {
			return err
		}
	}
	return nil
}

func refSymbols(refs []index.SymbolRef) []string {
	syms := make([]string, 0, len(refs))
	for _, r := range refs {
		syms = append(syms, r.Sym)
	}
	return syms
}

// mergeDefs appends the definitions of syms to out[kind], tagging the
// first line of each with a search for its symbol.
func mergeDefs(ctx context.Context, lookup SymbolLookup, out Keyed, syms []string, kind string) error {
	if len(syms) == 0 || len(syms) > maxRelatedSymbols {
		return nil
	}

	for _, sym := range syms {
		rec, err := lookup.Lookup(ctx, sym)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		for _, ph := range rec.Hits[index.RelDefs] {
			if len(ph.Lines) == 0 {
				continue
			}
			// records are shared through the cache; tag a copy
			lines := make([]index.LineHit, len(ph.Lines))
			copy(lines, ph.Lines)
			lines[0].Upsearch = "symbol:" + sym
			out[kind] = append(out[kind], index.PathHit{Path: ph.Path, Lines: lines})
		}
	}
	return nil
}
