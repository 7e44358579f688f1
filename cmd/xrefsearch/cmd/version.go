package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xrefsearch/internal/codesearch"
	"github.com/Aman-CERP/xrefsearch/pkg/version"
)

type versionReport struct {
	version.BuildInfo
	StoreSchema int `json:"store_schema"`
}

func newVersionCmd() *cobra.Command {
	var asJSON, short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build and index format versions",
		Long: `Print the release version, the commit and date it was built from, the Go
toolchain, and the full-text store schema this binary reads. Stores built
by a binary with a different schema must be rebuilt.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case short:
				_, err := fmt.Fprintln(out, version.Short())
				return err
			case asJSON:
				return writeJSON(out, versionReport{
					BuildInfo:   version.GetInfo(),
					StoreSchema: codesearch.SchemaVersion,
				})
			}
			_, err := fmt.Fprintf(out, "%s\nfull-text store schema: v%d\n",
				version.String(), codesearch.SchemaVersion)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "print only the release version")
	return cmd
}
