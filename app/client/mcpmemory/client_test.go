package mcpmemory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// newMemoryServer mimics the create_entities and search_nodes tools of the
// reference memory server.
func newMemoryServer(withSearch bool) *server.MCPServer {
	srv := server.NewMCPServer("memory", "1.0.0", server.WithToolCapabilities(false))

	var (
		mu    sync.Mutex
		notes []note
	)

	srv.AddTool(
		mcp.NewTool(toolCreateEntities,
			mcp.WithDescription("Create entities in the knowledge graph"),
			mcp.WithArray("entities", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := json.Marshal(req.GetArguments()["entities"])
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			var created []note
			if err = json.Unmarshal(raw, &created); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if len(created) == 0 {
				return mcp.NewToolResultError("no entities"), nil
			}

			mu.Lock()
			notes = append(notes, created...)
			mu.Unlock()

			out, _ := json.Marshal(created)
			return mcp.NewToolResultText(string(out)), nil
		},
	)

	if !withSearch {
		return srv
	}

	srv.AddTool(
		mcp.NewTool(toolSearchNodes,
			mcp.WithDescription("Search nodes in the knowledge graph"),
			mcp.WithString("query", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			query, err := req.RequireString("query")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			mu.Lock()
			defer mu.Unlock()

			found := make([]note, 0)
			for _, n := range notes {
				for _, obs := range n.Observations {
					if strings.Contains(strings.ToLower(obs), strings.ToLower(query)) {
						found = append(found, n)
						break
					}
				}
			}

			out, _ := json.Marshal(map[string]any{"entities": found, "relations": []any{}})
			return mcp.NewToolResultText(string(out)), nil
		},
	)

	return srv
}

func newInProcess(t *testing.T, srv *server.MCPServer) client.MCPClient {
	t.Helper()

	c, err := client.NewInProcessClient(srv)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	return c
}

func TestAddThenSearch(t *testing.T) {
	ctx := context.Background()

	c, err := NewFromClient(ctx, newInProcess(t, newMemoryServer(true)))
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Add(ctx, "session-1", "Contract signed with Acme Corp - Industry: Healthcare")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"session-1-1"`)
	assert.Contains(t, out, `"entityType":"note"`)

	out, err = c.Add(ctx, "session-1", "Weekly meeting moved to Thursday")
	require.NoError(t, err)
	assert.Contains(t, out, "session-1-2")

	out, err = c.Search(ctx, "session-1", "acme corp")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme Corp")
	assert.NotContains(t, out, "Thursday")
}

func TestToolErrorBecomesError(t *testing.T) {
	ctx := context.Background()

	c, err := NewFromClient(ctx, newInProcess(t, newMemoryServer(true)))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.call(ctx, toolCreateEntities, map[string]any{"entities": []any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entities")
}

func TestMissingToolsRejected(t *testing.T) {
	_, err := NewFromClient(context.Background(), newInProcess(t, newMemoryServer(false)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), toolSearchNodes)
}
