package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/xrefsearch/internal/search"
)

const (
	defaultLineLimit = 50
	maxLineLimit     = 500
)

// FormatResponse renders a grouped search response as markdown, emitting at
// most limit matching lines.
func FormatResponse(tree, q string, resp *search.Response, limit int) string {
	if resp.Trivial {
		return fmt.Sprintf("Query \"%s\" is too short to search.", q)
	}
	if resp.Empty() {
		msg := fmt.Sprintf("No results found for \"%s\" in %s", q, tree)
		if resp.TimedOut {
			msg += " (full-text search timed out)"
		}
		return msg
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", resp.Title)

	emitted, total := 0, 0
	for _, pk := range resp.Groups {
		for _, k := range pk.Kinds {
			open := emitted < limit
			if open {
				fmt.Fprintf(&sb, "### %s (%s)\n\n", k.Kind, pk.PathKind)
			}
			for _, p := range k.Paths {
				if len(p.Lines) == 0 {
					total++
					if emitted < limit {
						fmt.Fprintf(&sb, "- `%s`\n", p.Path)
						emitted++
					}
					continue
				}
				for _, l := range p.Lines {
					total++
					if emitted < limit {
						fmt.Fprintf(&sb, "- `%s:%d` %s\n", p.Path, l.Lno, strings.TrimSpace(l.Line))
						emitted++
					}
				}
			}
			if open {
				sb.WriteString("\n")
			}
		}
	}

	if total > emitted {
		fmt.Fprintf(&sb, "_%d of %d lines shown; raise limit or narrow with path:_\n", emitted, total)
	}
	if resp.TimedOut {
		sb.WriteString("\n**Note:** full-text search timed out; results are incomplete.\n")
	}
	for _, l := range resp.Limits {
		fmt.Fprintf(&sb, "\n**Note:** hit %s.\n", l)
	}
	return sb.String()
}

// ToSearchOutput flattens a response into the structured tool output.
func ToSearchOutput(resp *search.Response) SearchOutput {
	out := SearchOutput{
		Title:    resp.Title,
		TimedOut: resp.TimedOut,
		Limits:   resp.Limits,
		Groups:   make([]GroupOutput, 0),
	}
	if out.Limits == nil {
		out.Limits = []string{}
	}
	for _, pk := range resp.Groups {
		for _, k := range pk.Kinds {
			g := GroupOutput{PathKind: pk.PathKind, Kind: k.Kind, Hits: make([]HitOutput, 0, len(k.Paths))}
			for _, p := range k.Paths {
				if len(p.Lines) == 0 {
					g.Hits = append(g.Hits, HitOutput{Path: p.Path})
					continue
				}
				for _, l := range p.Lines {
					g.Hits = append(g.Hits, HitOutput{Path: p.Path, Lno: l.Lno, Line: l.Line})
				}
			}
			out.Groups = append(out.Groups, g)
		}
	}
	return out
}

// SourceURL is the source view link for a definition.
func SourceURL(tree, path string, lno int) string {
	return fmt.Sprintf("/%s/source/%s#%d", tree, path, lno)
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
