package agent

import (
	"context"
	"log/slog"

	"github.com/dinindunz/strands-agent-cli/app/util/metrics"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

var _ callbacks.Handler = (*runObserver)(nil)

// runObserver logs the reasoning steps of an agent run and counts them.
type runObserver struct {
	callbacks.SimpleHandler
	metrics *metrics.Metrics
}

func (o runObserver) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	slog.DebugContext(ctx, "Model call", slog.Int("messages", len(ms)))
}

func (o runObserver) HandleLLMError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "Model call failed", slog.Any("error", err))
}

func (o runObserver) HandleChainError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "Agent run failed", slog.Any("error", err))
}

func (o runObserver) HandleToolError(ctx context.Context, err error) {
	slog.WarnContext(ctx, "Tool failed", slog.Any("error", err))
}

func (o runObserver) HandleAgentAction(ctx context.Context, action schema.AgentAction) {
	if o.metrics != nil {
		o.metrics.AgentSteps.WithLabelValues(action.Tool).Inc()
	}

	slog.InfoContext(ctx, "Agent action",
		slog.String("tool", action.Tool),
		slog.String("tool_input", action.ToolInput),
	)
}

func (o runObserver) HandleAgentFinish(ctx context.Context, finish schema.AgentFinish) {
	slog.DebugContext(ctx, "Agent finished", slog.Int("return_values", len(finish.ReturnValues)))
}
