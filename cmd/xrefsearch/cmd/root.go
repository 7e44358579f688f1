// Package cmd provides the CLI commands for xrefsearch.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xrefsearch/internal/config"
	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/logging"
	"github.com/Aman-CERP/xrefsearch/internal/profiling"
	"github.com/Aman-CERP/xrefsearch/pkg/version"
)

// Global flags
var (
	configPath     string
	debugMode      bool
	loggingCleanup func()

	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the xrefsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xrefsearch",
		Short: "Code search over prebuilt crossref indexes",
		Long: `xrefsearch answers code search queries over trees indexed ahead of time.

Each tree has a crossref index (symbol definitions, uses and relations),
an identifier prefix index, file lists and, optionally, a full-text index
served by a codesearch daemon. 'xrefsearch serve' runs the HTTP front end;
'xrefsearch query' runs one search from the command line.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("xrefsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/xrefsearch/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")

	cmd.PersistentFlags().StringVar(&profileOpts.CPUPath, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&profileOpts.HeapPath, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.TracePath, "profile-trace", "", "Write an execution trace to this file")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = func(c *cobra.Command, args []string) error {
		err := stopProfiling()
		return errors.Join(err, stopLogging(c, args))
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newDefineCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newCodesearchCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	// PersistentPostRunE is skipped when a command fails
	if perr := stopProfiling(); perr != nil {
		slog.Warn("failed to write profiles", slog.String("error", perr.Error()))
	}
	if err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), xerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// startLogging installs the process logger. --debug forces debug level
// onto stderr in addition to the configured file.
func startLogging(cfg logging.Config) error {
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("logging started",
		slog.String("log_file", cfg.FilePath),
		slog.String("version", version.Version))
	return nil
}

// loggingConfig maps the logging section of cfg onto a logging.Config.
func loggingConfig(cfg *config.Config, base logging.Config) logging.Config {
	base.Level = cfg.Logging.Level
	if cfg.Logging.File != "" {
		base.FilePath = cfg.Logging.File
	}
	if cfg.Logging.MaxSizeMB > 0 {
		base.MaxSizeMB = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxFiles > 0 {
		base.MaxFiles = cfg.Logging.MaxFiles
	}
	return base
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func startProfiling(_ *cobra.Command, _ []string) error {
	if !profileOpts.Enabled() || profileSession != nil {
		return nil
	}
	s, err := profiling.Start(profileOpts)
	if err != nil {
		return err
	}
	profileSession = s
	return nil
}

func stopProfiling() error {
	if profileSession == nil {
		return nil
	}
	err := profileSession.Stop()
	profileSession = nil
	return err
}
