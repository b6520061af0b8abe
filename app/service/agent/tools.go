package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dinindunz/strands-agent-cli/app/service/knowledge"
	"github.com/dinindunz/strands-agent-cli/app/util/metrics"
	"github.com/tmc/langchaingo/tools"
)

const (
	ToolAddKnowledge    = knowledge.ToolAdd
	ToolSearchKnowledge = knowledge.ToolSearch
)

type agentTool struct {
	name        string
	description string
	call        func(ctx context.Context, input string) (string, error)
}

func (m *agentTool) Name() string {
	return m.name
}

func (m *agentTool) Description() string {
	return m.description
}

func (m *agentTool) Call(ctx context.Context, input string) (string, error) {
	return m.call(ctx, input)
}

// observedTool counts calls and turns tool errors into output, so the agent
// sees the failure instead of the run being aborted.
type observedTool struct {
	tools.Tool
	metrics *metrics.Metrics
}

func observe(tool tools.Tool, m *metrics.Metrics) tools.Tool {
	return &observedTool{Tool: tool, metrics: m}
}

func (o *observedTool) Call(ctx context.Context, input string) (string, error) {
	output, err := o.Tool.Call(ctx, input)

	if o.metrics != nil {
		o.metrics.ToolCalls.WithLabelValues(o.Name(), metrics.Outcome(err)).Inc()
	}

	if err != nil {
		return fmt.Sprintf("Error: %s", err), nil
	}

	return output, nil
}

func createKnowledgeTools(kb *knowledge.Service) []tools.Tool {
	return []tools.Tool{
		&agentTool{
			name:        ToolAddKnowledge,
			description: "Store information in the knowledge base for later retrieval. Input is the information to store as plain text. Returns a confirmation message about the stored information.",
			call: func(ctx context.Context, input string) (string, error) {
				return kb.Store(ctx, input), nil
			},
		},
		&agentTool{
			name:        ToolSearchKnowledge,
			description: "Search previously stored information from the knowledge base. Input is the search query as plain text. Returns search results from the knowledge base.",
			call: func(ctx context.Context, input string) (string, error) {
				return kb.Search(ctx, strings.TrimSpace(input)), nil
			},
		},
	}
}
