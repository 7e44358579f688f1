package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/output"
	"github.com/Aman-CERP/xrefsearch/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOut bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that configured trees can be served",
		Long: `Checks every configured tree's index files, full-text store and daemon
port, then the run directory, log directory, free disk space and file
descriptor limit. Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			results := preflight.New(cfg).RunAll(cmd.Context())
			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				printChecks(cmd, results, verbose)
			}

			if preflight.HasCriticalFailures(results) {
				return xerrors.New(xerrors.ErrCodeConfigInvalid, "required checks failed", nil).
					WithSuggestion("run 'xrefsearch doctor -v' for details")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	return cmd
}

func printChecks(cmd *cobra.Command, results []preflight.CheckResult, verbose bool) {
	w := cmd.OutOrStdout()
	out := output.New(w)

	for _, r := range results {
		name := r.Name
		if r.Tree != "" {
			name = r.Tree + "/" + r.Name
		}
		msg := name + ": " + r.Message
		switch r.Status {
		case preflight.StatusPass:
			out.Success(msg)
		case preflight.StatusWarn:
			out.Warning(msg)
		default:
			out.Error(msg)
		}
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			_, _ = fmt.Fprintf(w, "    %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(preflight.Summary(results)))
}
