package cmd

import (
	"log/slog"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/dinindunz/strands-agent-cli/app/service/api"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent server",
	Long:  `Serves POST /invoke, GET /health and GET /metrics until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if servePort != 0 {
			cfg.Agent.Port = servePort
		}

		if err = cfg.Require(config.ScopeLLM, config.ScopeAgent); err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		di := newInjector(ctx, cfg)
		defer di.Shutdown()
		defer slog.Info("Waiting for services to finish...")

		server, err := do.Invoke[*api.Server](di)
		if err != nil {
			return err
		}

		slog.Info("Service started")

		return server.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides AGENT_PORT)")
}
