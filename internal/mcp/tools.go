package mcp

import "github.com/Aman-CERP/xrefsearch/internal/daemon"

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Tree          string `json:"tree,omitempty" jsonschema:"tree to search; may be omitted when only one tree is configured"`
	Query         string `json:"query" jsonschema:"search query: free text, symbol:, id:, path:, re:, text: or pathre: prefixed"`
	CaseSensitive bool   `json:"case_sensitive,omitempty" jsonschema:"match case exactly in full-text search"`
	Regexp        bool   `json:"regexp,omitempty" jsonschema:"treat the query as a regular expression"`
	Path          string `json:"path,omitempty" jsonschema:"glob restricting result paths, e.g. dom/**/*.cpp"`
	Limit         int    `json:"limit,omitempty" jsonschema:"maximum matching lines in the text summary, default 50"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Title    string        `json:"title"`
	TimedOut bool          `json:"timed_out"`
	Limits   []string      `json:"limits"`
	Groups   []GroupOutput `json:"groups" jsonschema:"results grouped by path kind and result kind, in display order"`
}

// GroupOutput is one (path kind, result kind) section of a search response.
type GroupOutput struct {
	PathKind string      `json:"path_kind" jsonschema:"normal, test or generated"`
	Kind     string      `json:"kind" jsonschema:"result kind, e.g. Definitions or Uses"`
	Hits     []HitOutput `json:"hits"`
}

// HitOutput is one matching line.
type HitOutput struct {
	Path string `json:"path"`
	Lno  int    `json:"lno,omitempty"`
	Line string `json:"line,omitempty"`
}

// DefineInput defines the input schema for the define tool.
type DefineInput struct {
	Tree   string `json:"tree,omitempty" jsonschema:"tree to look in; may be omitted when only one tree is configured"`
	Symbol string `json:"symbol" jsonschema:"crossref symbol, e.g. _ZN3Foo3BarEv or #Foo#Bar"`
}

// DefineOutput defines the output schema for the define tool.
type DefineOutput struct {
	Path string `json:"path"`
	Lno  int    `json:"lno"`
	URL  string `json:"url" jsonschema:"source view link for the definition"`
}

// ListTreesInput defines the input schema for the list_trees tool (no parameters).
type ListTreesInput struct{}

// ListTreesOutput defines the output schema for the list_trees tool.
type ListTreesOutput struct {
	Trees []TreeOutput `json:"trees"`
}

// TreeOutput describes a configured tree.
type TreeOutput struct {
	Name      string         `json:"name"`
	IndexPath string         `json:"index_path"`
	FullText  bool           `json:"full_text" jsonschema:"true if a full-text backend is attached"`
	Daemon    *daemon.Handle `json:"daemon,omitempty"`
}
