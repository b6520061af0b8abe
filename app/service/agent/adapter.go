package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/oops"
)

type mcpToolAdapter struct {
	client client.MCPClient
	tool   mcp.Tool
	name   string
}

func (m *mcpToolAdapter) Name() string {
	return m.name
}

func (m *mcpToolAdapter) Description() string {
	return m.tool.Description + " " + m.inputHint()
}

// inputHint tells the model which JSON fields the wrapped tool accepts.
func (m *mcpToolAdapter) inputHint() string {
	if len(m.tool.InputSchema.Properties) == 0 {
		return "Input is passed as is."
	}

	schema, err := json.Marshal(m.tool.InputSchema.Properties)
	if err != nil {
		return ""
	}

	return "Input must be a JSON object with these properties: " + string(schema)
}

func (m *mcpToolAdapter) Call(ctx context.Context, input string) (string, error) {
	callRequest := mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
	}

	callRequest.Params.Name = m.tool.Name
	callRequest.Params.Arguments = m.arguments(input)

	response, err := m.client.CallTool(ctx, callRequest)
	if err != nil {
		return "", oops.In("agent").With("tool", m.name).Errorf("MCP tool call failed: %w", err)
	}

	var result strings.Builder
	for _, content := range response.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			result.WriteString(textContent.Text)
			result.WriteString("\n")
		}
	}

	text := strings.TrimSpace(result.String())

	if response.IsError {
		return "", oops.In("agent").With("tool", m.name).Errorf("MCP tool reported an error: %s", text)
	}

	return text, nil
}

// arguments parses JSON object input, otherwise binds the raw input to the
// single schema property (or "input").
func (m *mcpToolAdapter) arguments(input string) map[string]any {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
			return args
		}
	}

	if len(m.tool.InputSchema.Required) > 0 {
		return map[string]any{m.tool.InputSchema.Required[0]: input}
	}

	for propName := range m.tool.InputSchema.Properties {
		return map[string]any{propName: input}
	}

	return map[string]any{"input": input}
}
