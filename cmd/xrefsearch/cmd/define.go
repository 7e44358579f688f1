package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xrefsearch/internal/config"
	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/output"
)

func newDefineCmd() *cobra.Command {
	var (
		tree       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "define <symbol>",
		Short: "Print where a symbol is defined",
		Example: `  xrefsearch define -t mozilla-central _ZN7nsINode9GetParentEv
  xrefsearch define -t mozilla-central '#Foo#Bar' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			name, err := resolveTree(cfg, tree)
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

			path, lno, err := engine.Define(cmd.Context(), name, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"path": path, "lno": lno})
			}
			output.New(cmd.OutOrStdout()).Definition(name, path, lno)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tree, "tree", "t", "", "Tree to look in (default: the only configured tree)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// resolveTree picks the named tree, or the only configured one.
func resolveTree(cfg *config.Config, name string) (string, error) {
	if name != "" {
		if _, err := cfg.Tree(name); err != nil {
			return "", err
		}
		return name, nil
	}
	names := cfg.TreeNames()
	switch len(names) {
	case 1:
		return names[0], nil
	case 0:
		return "", xerrors.New(xerrors.ErrCodeConfigInvalid, "no trees configured", nil).
			WithSuggestion("add a tree under trees: in " + config.DefaultPath())
	default:
		return "", xerrors.New(xerrors.ErrCodeInvalidQuery, "several trees are configured; pass --tree", nil).
			WithDetail("trees", strings.Join(names, ", "))
	}
}
