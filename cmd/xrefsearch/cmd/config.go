package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/xrefsearch/configs"
	"github.com/Aman-CERP/xrefsearch/internal/config"
	"github.com/Aman-CERP/xrefsearch/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Manage the xrefsearch configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. Config file (--config, else $XDG_CONFIG_HOME/xrefsearch/config.yaml)
  3. Environment variables (XREFSEARCH_*)`,
		Example: `  xrefsearch config init
  xrefsearch config show --json
  xrefsearch config path
  xrefsearch config restore`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigBackupsCmd())
	cmd.AddCommand(newConfigRestoreCmd())
	return cmd
}

// targetConfigPath is the file config subcommands act on.
func targetConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file from a template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, targetConfigPath(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("configuration already exists at %s", path)
			out.Status("", "Use --force to replace it; the current file is backed up first")
			return nil
		}
		backup, err := config.Backup(path)
		if err != nil {
			return err
		}
		out.Successf("backed up %s", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Successf("created %s", path)
	out.Status("", "Add your trees under trees:, then run 'xrefsearch config show' to verify")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			switch source {
			case "merged":
				loaded, err := loadConfig()
				if err != nil {
					return err
				}
				cfg = loaded
			case "defaults":
				cfg = config.NewConfig()
			default:
				return fmt.Errorf("invalid source: %s (use: merged, defaults)", source)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), targetConfigPath())
			return err
		},
	}
}

func newConfigBackupsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List saved copies of the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := config.Backups(targetConfigPath())
			if err != nil {
				return err
			}
			if jsonOutput {
				if backups == nil {
					backups = []config.BackupFile{}
				}
				return writeJSON(cmd.OutOrStdout(), backups)
			}
			out := output.New(cmd.OutOrStdout())
			if len(backups) == 0 {
				out.Status("", "no backups")
				return nil
			}
			for _, b := range backups {
				out.Status("", fmt.Sprintf("%s  %s", b.Taken.Format("2006-01-02 15:04:05"), b.Path))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup]",
		Short: "Replace the configuration file with a backup (newest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := targetConfigPath()
			var from string
			if len(args) == 1 {
				from = args[0]
			} else {
				backups, err := config.Backups(path)
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					return fmt.Errorf("no backups of %s", path)
				}
				from = backups[0].Path
			}
			if err := config.Restore(path, from); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("restored %s from %s", path, from)
			return nil
		},
	}
}
