package knowledge

import (
	"context"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ToolAdd    = "add_to_knowledge_base"
	ToolSearch = "search_knowledge_base"

	mcpServerName    = "knowledge-base"
	mcpServerVersion = "1.0.0"
)

// MCPServer exposes the knowledge base tools to MCP clients.
func (s *Service) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(mcpServerName, mcpServerVersion, server.WithToolCapabilities(false))

	srv.AddTool(
		mcp.NewTool(ToolAdd,
			mcp.WithDescription("Store information in the knowledge base for later retrieval"),
			mcp.WithString("data", mcp.Required(), mcp.Description("Information to store as plain text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			data, err := req.RequireString("data")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(s.Store(ctx, data)), nil
		},
	)

	srv.AddTool(
		mcp.NewTool(ToolSearch,
			mcp.WithDescription("Search previously stored information from the knowledge base"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query as plain text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			query, err := req.RequireString("query")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(s.Search(ctx, strings.TrimSpace(query))), nil
		},
	)

	return srv
}

// ServeStdio serves the MCP tools over in and out until ctx is done or in closes.
func (s *Service) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.MCPServer()).Listen(ctx, in, out)
}
