package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dinindunz/strands-agent-cli/app/client/agentapi"
	"github.com/dinindunz/strands-agent-cli/app/client/llm"
	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/dinindunz/strands-agent-cli/app/service/agent"
	"github.com/dinindunz/strands-agent-cli/app/service/api"
	"github.com/dinindunz/strands-agent-cli/app/service/knowledge"
	"github.com/dinindunz/strands-agent-cli/app/service/visual"
	"github.com/dinindunz/strands-agent-cli/app/util/metrics"
	"github.com/dinindunz/strands-agent-cli/app/util/mylog"
	"github.com/dinindunz/strands-agent-cli/app/util/tokenizer"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "strands-agent",
	Short:         "Agent server with a persistent knowledge graph",
	Long:          `strands-agent runs a tool-using LLM agent over HTTP, keeps what it learns in a local knowledge graph and ships a chat client and graph visualisation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the YAML config file")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadConfig loads the config and switches logging to it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err = mylog.Init(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newInjector registers every service lazily, commands invoke what they need.
func newInjector(ctx context.Context, cfg *config.Config) *do.Injector {
	di := do.New()

	do.ProvideValue(di, ctx)
	do.ProvideValue(di, cfg)

	tokenizer.UseOfflineBPE()
	do.ProvideValue(di, tokenizer.NewResolver(cfg.Tokenizer.Aliases))

	do.Provide(di, metrics.New)
	do.Provide(di, llm.New)
	do.Provide(di, knowledge.New)
	do.Provide(di, agent.New)
	do.Provide(di, api.New)
	do.Provide(di, visual.New)
	do.Provide(di, agentapi.New)

	return di
}
