package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xrefsearch/internal/config"
	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/logging"
	"github.com/Aman-CERP/xrefsearch/internal/output"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the full-text daemons",
		Long: `Each tree with a codesearch_path has one full-text daemon listening on
localhost:<codesearch_port>. The server starts them on demand; these
commands manage them directly.

Commands:
  start   Start daemons that are not answering
  stop    Stop daemons
  status  Show daemon state`,
		Example: `  xrefsearch daemon status
  xrefsearch daemon start mozilla-central
  xrefsearch daemon stop`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	return cmd
}

// selectSupervisors returns supervisors for the named trees, or all of
// them when names is empty.
func selectSupervisors(cfg *config.Config, names []string) ([]*daemon.Supervisor, error) {
	sups, err := newSupervisors(cfg)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = cfg.TreeNames()
	}

	var out []*daemon.Supervisor
	for _, name := range names {
		if _, err := cfg.Tree(name); err != nil {
			return nil, err
		}
		sup, ok := sups[name]
		if !ok {
			if len(names) == 1 {
				return nil, fmt.Errorf("tree %s has no codesearch_path", name)
			}
			continue
		}
		out = append(out, sup)
	}
	return out, nil
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [tree...]",
		Short: "Start full-text daemons",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := startLogging(loggingConfig(cfg, logging.DefaultConfig())); err != nil {
				return err
			}
			sups, err := selectSupervisors(cfg, args)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			byName := make(map[string]*daemon.Supervisor, len(sups))
			for _, sup := range sups {
				byName[sup.Config().Tree] = sup
			}
			err = startDaemons(cmd.Context(), byName)
			for _, sup := range sups {
				h := sup.Handle()
				if sup.State() == daemon.StateReady {
					out.Successf("%s ready on %s", h.Tree, h.Addr)
				} else {
					out.Errorf("%s failed to start (see 'xrefsearch logs --source %s')", h.Tree, h.Tree)
				}
			}
			return err
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [tree...]",
		Short: "Stop full-text daemons",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sups, err := selectSupervisors(cfg, args)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			for _, sup := range sups {
				tree := sup.Config().Tree
				if err := sup.Stop(); err != nil {
					out.Warningf("%s: %v", tree, err)
					continue
				}
				out.Successf("%s stopped", tree)
			}
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [tree...]",
		Short: "Show full-text daemon state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sups, err := selectSupervisors(cfg, args)
			if err != nil {
				return err
			}

			handles := attachDaemons(cmd.Context(), sups)
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), handles)
			}
			if len(handles) == 0 {
				output.New(cmd.OutOrStdout()).Warning("no trees have a full-text index configured")
				return nil
			}
			output.New(cmd.OutOrStdout()).Handles(handles)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// attachDaemons attaches to each daemon that answers and snapshots all of
// them. Daemons that do not answer report as stopped.
func attachDaemons(ctx context.Context, sups []*daemon.Supervisor) []daemon.Handle {
	handles := make([]daemon.Handle, 0, len(sups))
	for _, sup := range sups {
		_ = sup.Attach(ctx)
		handles = append(handles, sup.Handle())
	}
	return handles
}
