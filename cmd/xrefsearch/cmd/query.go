package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xrefsearch/internal/logging"
	"github.com/Aman-CERP/xrefsearch/internal/output"
	"github.com/Aman-CERP/xrefsearch/internal/query"
)

type queryOptions struct {
	tree          string
	caseSensitive bool
	regexp        bool
	path          string
	raw           bool
	jsonOutput    bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query [flags] <query>",
		Short: "Run one search from the command line",
		Long: `Run a search against a configured tree and print the grouped results.

Query syntax:
  Foo::Bar           free text: identifiers, file paths and text
  symbol:_ZN3Foo3BarEv,#Foo#Bar
  id:Foo             exact identifier
  path:dom/*.cpp     file paths
  re:Fo+\(           full-text regular expression
  text:foo bar       literal full text
  pathre:^dom/       full text restricted to a path regexp

The full-text daemon of the tree is started on demand.`,
		Example: `  xrefsearch query --tree mozilla-central nsINode::GetParent
  xrefsearch query -t mozilla-central --json 'symbol:#Foo#Bar'
  xrefsearch query -t mozilla-central --raw 'id:nsINode'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.tree, "tree", "t", "", "Tree to search (default: the only configured tree)")
	cmd.Flags().BoolVarP(&opts.caseSensitive, "case", "c", false, "Case-sensitive full-text search")
	cmd.Flags().BoolVarP(&opts.regexp, "regexp", "r", false, "Treat the query as a regular expression")
	cmd.Flags().StringVarP(&opts.path, "path", "p", "", "Restrict results to paths matching this glob")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print raw results keyed by symbol (implies --json)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runQuery(cmd *cobra.Command, q string, opts queryOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries results, so logs go to file only.
	logCfg := loggingConfig(cfg, logging.DefaultConfig())
	logCfg.WriteToStderr = false
	if err := startLogging(logCfg); err != nil {
		return err
	}

	tree, err := resolveTree(cfg, opts.tree)
	if err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	engine, err := a.engine(nil)
	if err != nil {
		return err
	}

	req := query.Request{Q: q, CaseSensitive: opts.caseSensitive, Regexp: opts.regexp, Path: opts.path}
	if opts.raw {
		resp, err := engine.Sorch(cmd.Context(), tree, req)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	resp, err := engine.Search(cmd.Context(), tree, req)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	output.New(cmd.OutOrStdout()).Response(resp)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
