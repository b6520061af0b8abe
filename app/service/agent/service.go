package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/client/llm"
	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/dinindunz/strands-agent-cli/app/service/knowledge"
	"github.com/dinindunz/strands-agent-cli/app/util/metrics"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

//go:embed system_prompt.txt
var systemPrompt string

const outputKey = "output"

type Options struct {
	SystemPrompt  string
	MaxIterations int
}

type Service struct {
	executor   *agents.Executor
	tools      []tools.Tool
	metrics    *metrics.Metrics
	mcpClients []*mcpClientWrapper
}

func New(di *do.Injector) (*Service, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)
	llmClient := do.MustInvoke[*llm.Client](di)
	kb := do.MustInvoke[*knowledge.Service](di)
	m := do.MustInvoke[*metrics.Metrics](di)

	var toolset []tools.Tool

	if *cfg.Agent.Shell.Enabled {
		toolset = append(toolset, newShellTool(cfg.Agent.Shell))
	}

	if *cfg.Agent.Editor.Enabled {
		editor, err := newEditorTool(cfg.Agent.Editor.Root)
		if err != nil {
			return nil, err
		}
		toolset = append(toolset, editor)
	}

	toolset = append(toolset, createKnowledgeTools(kb)...)

	s := &Service{metrics: m}

	if err := s.initializeMCPClients(ctx, cfg.Agent.MCPServers); err != nil {
		_ = s.Shutdown()
		return nil, err
	}

	for _, wrapper := range s.mcpClients {
		toolset = append(toolset, wrapper.tools...)
	}

	s.build(llmClient.Model, toolset, Options{
		MaxIterations: cfg.Agent.MaxIterations,
	})

	slog.Info("Agent ready",
		slog.String("model", llmClient.ModelID),
		slog.Any("tools", s.ToolNames()),
	)

	return s, nil
}

// NewService builds an agent over any model and tool set.
func NewService(model llms.Model, toolset []tools.Tool, opts Options, m *metrics.Metrics) *Service {
	s := &Service{metrics: m}
	s.build(model, toolset, opts)
	return s
}

func (s *Service) build(model llms.Model, toolset []tools.Tool, opts Options) {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = systemPrompt
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}

	s.tools = pie.Map(toolset, func(t tools.Tool) tools.Tool {
		return observe(t, s.metrics)
	})

	agent := agents.NewOpenAIFunctionsAgent(model, s.tools,
		agents.NewOpenAIOption().WithSystemMessage(opts.SystemPrompt),
	)

	s.executor = agents.NewExecutor(agent,
		agents.WithMaxIterations(opts.MaxIterations),
		agents.WithCallbacksHandler(runObserver{metrics: s.metrics}),
	)
}

func (s *Service) ToolNames() []string {
	return pie.Map(s.tools, func(t tools.Tool) string { return t.Name() })
}

// Invoke runs the agent once on prompt and returns the first textual output.
func (s *Service) Invoke(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	outputs, err := chains.Call(ctx, s.executor, map[string]any{
		"input": prompt,
	})

	if s.metrics != nil {
		s.metrics.InvokeTotal.WithLabelValues(metrics.Outcome(err)).Inc()
		s.metrics.InvokeDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		return "", oops.In("agent").Wrapf(err, "agent run failed")
	}

	return firstText(outputs), nil
}

func firstText(outputs map[string]any) string {
	if text, ok := outputs[outputKey].(string); ok {
		return text
	}

	return fmt.Sprint(outputs)
}

func (s *Service) Shutdown() error {
	var errs []error

	for _, wrapper := range s.mcpClients {
		if err := wrapper.client.Close(); err != nil {
			errs = append(errs, oops.In("agent").With("server", wrapper.name).Errorf("failed to close MCP client: %w", err))
		}
	}

	return errors.Join(errs...)
}
