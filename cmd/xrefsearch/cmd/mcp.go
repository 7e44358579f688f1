package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xrefsearch/internal/logging"
	xmcp "github.com/Aman-CERP/xrefsearch/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the search engine to AI clients over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools: search, define, list_trees. Resource: xrefsearch://query_metrics.

stdout carries the protocol stream, so logs go to the server log file only.`,
		Example: `  # Claude Code / Cursor MCP config
  {"command": "xrefsearch", "args": ["mcp"]}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logCfg := loggingConfig(cfg, logging.StdioConfig(cfg.Logging.Level))
			// --debug must not reach stderr either.
			debug := debugMode
			debugMode = false
			if debug {
				logCfg.Level = "debug"
			}
			if err := startLogging(logCfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics, closeMetrics, err := openMetrics(cfg.Server.TelemetryDB)
			if err != nil {
				return err
			}
			defer closeMetrics()

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			engine, err := a.engine(metrics)
			if err != nil {
				return err
			}

			daemons := make(map[string]xmcp.HandleSource, len(a.supervisors))
			for name, sup := range a.supervisors {
				daemons[name] = sup
			}
			srv, err := xmcp.NewServer(engine, xmcp.WithMetrics(metrics), xmcp.WithDaemons(daemons))
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}
