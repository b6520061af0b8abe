package knowledge

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)

	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	return text.Text
}

func TestMCPServerExposesTools(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	svc := NewWithBackend(backend, nil)

	c, err := client.NewInProcessClient(svc.MCPServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "1.0.0"}
	_, err = c.Initialize(ctx, initRequest)
	require.NoError(t, err)

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)

	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolAdd, ToolSearch}, names)

	res := callTool(t, c, ToolAdd, map[string]any{"data": "Acme Corp"})
	assert.False(t, res.IsError)
	assert.Equal(t, "Successfully stored information: stored Acme Corp", resultText(t, res))

	res = callTool(t, c, ToolSearch, map[string]any{"query": "  Acme "})
	assert.False(t, res.IsError)
	assert.Equal(t, "found Acme", resultText(t, res))

	res = callTool(t, c, ToolSearch, map[string]any{})
	assert.True(t, res.IsError)

	assert.Equal(t, []string{"Acme Corp"}, backend.added)
}
