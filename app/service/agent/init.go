package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/tools"
)

const mcpInitTimeout = time.Minute

type mcpClientWrapper struct {
	client client.MCPClient
	tools  []tools.Tool
	name   string
}

func (s *Service) initializeMCPClients(ctx context.Context, servers []config.MCPServer) error {
	for _, server := range servers {
		mcpClient, err := client.NewStdioMCPClient(server.Command, nil, server.Args...)
		if err != nil {
			return oops.In("agent").With("server", server.Name).Errorf("failed to create MCP client: %w", err)
		}

		wrapper, err := loadMCPTools(ctx, server.Name, mcpClient)
		if err != nil {
			_ = mcpClient.Close()
			return err
		}

		s.mcpClients = append(s.mcpClients, wrapper)

		slog.Info("MCP server connected",
			slog.String("server", server.Name),
			slog.Int("tools", len(wrapper.tools)),
		)
	}

	return nil
}

// loadMCPTools initializes mcpClient and wraps every tool it lists as
// "<name>_<tool>".
func loadMCPTools(ctx context.Context, name string, mcpClient client.MCPClient) (*mcpClientWrapper, error) {
	ctx, cancel := context.WithTimeout(ctx, mcpInitTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "strands-agent",
		Version: "1.0.0",
	}

	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		return nil, oops.In("agent").With("server", name).Errorf("failed to initialize MCP client: %w", err)
	}

	toolsResponse, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, oops.In("agent").With("server", name).Errorf("failed to list tools: %w", err)
	}

	langchainTools := make([]tools.Tool, 0, len(toolsResponse.Tools))
	for _, mcpTool := range toolsResponse.Tools {
		langchainTools = append(langchainTools, &mcpToolAdapter{
			client: mcpClient,
			tool:   mcpTool,
			name:   fmt.Sprintf("%s_%s", name, mcpTool.Name),
		})
	}

	return &mcpClientWrapper{
		client: mcpClient,
		tools:  langchainTools,
		name:   name,
	}, nil
}
