package mcpmemory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/oops"
)

const (
	initTimeout = time.Minute

	toolCreateEntities = "create_entities"
	toolSearchNodes    = "search_nodes"

	noteEntityType = "note"
)

// Client stores and searches notes through a knowledge graph memory MCP server.
type Client struct {
	client client.MCPClient

	mu  sync.Mutex
	seq int
}

// New launches the MCP server over stdio and initializes it.
func New(ctx context.Context, command string, args []string) (*Client, error) {
	mcpClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, oops.In("mcpmemory").
			With("command", command).
			With("args", args).
			Errorf("failed to start MCP server: %w", err)
	}

	c, err := NewFromClient(ctx, mcpClient)
	if err != nil {
		_ = mcpClient.Close()
		return nil, err
	}

	return c, nil
}

// NewFromClient initializes an already started MCP client and checks that the
// server exposes the memory tools.
func NewFromClient(ctx context.Context, mcpClient client.MCPClient) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "strands-agent-knowledge",
		Version: "1.0.0",
	}

	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		return nil, oops.In("mcpmemory").Errorf("failed to initialize MCP client: %w", err)
	}

	toolsResponse, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, oops.In("mcpmemory").Errorf("failed to list tools: %w", err)
	}

	available := make(map[string]bool, len(toolsResponse.Tools))
	for _, tool := range toolsResponse.Tools {
		available[tool.Name] = true
	}

	for _, name := range []string{toolCreateEntities, toolSearchNodes} {
		if !available[name] {
			return nil, oops.In("mcpmemory").With("tool", name).Errorf("MCP server does not provide %s", name)
		}
	}

	slog.Debug("MCP memory server ready", slog.Int("tools", len(toolsResponse.Tools)))

	return &Client{client: mcpClient}, nil
}

func (c *Client) Add(ctx context.Context, session, text string) (string, error) {
	c.mu.Lock()
	c.seq++
	name := fmt.Sprintf("%s-%d", session, c.seq)
	c.mu.Unlock()

	return c.call(ctx, toolCreateEntities, map[string]any{
		"entities": []map[string]any{
			{
				"name":         name,
				"entityType":   noteEntityType,
				"observations": []string{text},
			},
		},
	})
}

func (c *Client) Search(ctx context.Context, _ string, query string) (string, error) {
	return c.call(ctx, toolSearchNodes, map[string]any{
		"query": query,
	})
}

func (c *Client) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	callRequest := mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
	}
	callRequest.Params.Name = tool
	callRequest.Params.Arguments = args

	response, err := c.client.CallTool(ctx, callRequest)
	if err != nil {
		return "", oops.In("mcpmemory").With("tool", tool).Errorf("MCP tool call failed: %w", err)
	}

	text := textContent(response)

	if response.IsError {
		return "", oops.In("mcpmemory").With("tool", tool).Errorf("%s failed: %s", tool, text)
	}

	return text, nil
}

func textContent(response *mcp.CallToolResult) string {
	var result strings.Builder
	for _, content := range response.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			result.WriteString(tc.Text)
			result.WriteString("\n")
		}
	}

	return strings.TrimSpace(result.String())
}

func (c *Client) Close() error {
	return c.client.Close()
}
