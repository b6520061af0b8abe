package cmd

import (
	"log/slog"
	"os"

	"github.com/dinindunz/strands-agent-cli/app/client/agentapi"
	"github.com/dinindunz/strands-agent-cli/app/service/chat"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

var (
	chatURL string
	chatRaw bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running agent server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if chatURL != "" {
			cfg.Chat.URL = chatURL
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		di := newInjector(ctx, cfg)
		defer di.Shutdown()

		client, err := do.Invoke[*agentapi.Client](di)
		if err != nil {
			return err
		}

		var opts []chat.Option
		if !chatRaw {
			renderer, err := chat.NewMarkdownRenderer(100)
			if err != nil {
				slog.Warn("Markdown rendering disabled", slog.Any("error", err))
			} else {
				opts = append(opts, chat.WithRenderer(renderer))
			}
		}

		return chat.NewSession(client, os.Stdin, os.Stdout, opts...).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatURL, "url", "", "Base URL of the agent (default http://localhost:$AGENT_PORT)")
	chatCmd.Flags().BoolVar(&chatRaw, "raw", false, "Print replies without markdown rendering")
}
