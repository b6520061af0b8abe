package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/dinindunz/strands-agent-cli/app/service/knowledge"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShellConfig(t *testing.T) config.Shell {
	return config.Shell{
		Timeout: 10 * time.Second,
		WorkDir: t.TempDir(),
	}
}

func TestShellRunsCommand(t *testing.T) {
	cfg := testShellConfig(t)

	out, err := runShell(context.Background(), cfg, "echo hello && pwd")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, filepath.Base(cfg.WorkDir))
	assert.Contains(t, out, "[exit code: 0]")
}

func TestShellReportsExitCode(t *testing.T) {
	out, err := runShell(context.Background(), testShellConfig(t), "echo oops >&2; exit 3")
	require.NoError(t, err)
	assert.Contains(t, out, "oops")
	assert.Contains(t, out, "[exit code: 3]")
}

func TestShellTimeout(t *testing.T) {
	cfg := testShellConfig(t)
	cfg.Timeout = 100 * time.Millisecond

	_, err := runShell(context.Background(), cfg, "sleep 5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestShellEmptyCommand(t *testing.T) {
	_, err := runShell(context.Background(), testShellConfig(t), "  ")
	require.Error(t, err)
}

func newTestEditor(t *testing.T) (*fileEditor, string) {
	root := t.TempDir()
	tool, err := newEditorTool(root)
	require.NoError(t, err)
	assert.Equal(t, ToolEditor, tool.Name())

	abs, err := filepath.Abs(root)
	require.NoError(t, err)

	return &fileEditor{root: abs}, abs
}

func TestEditorCreateViewReplaceInsert(t *testing.T) {
	e, root := newTestEditor(t)
	ctx := context.Background()

	out, err := e.call(ctx, `{"command":"create","path":"notes/a.txt","file_text":"one\ntwo\nthree\n"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "File created")

	out, err = e.call(ctx, `{"command":"view","path":"notes/a.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "     1\tone\n     2\ttwo\n     3\tthree", out)

	out, err = e.call(ctx, `{"command":"view","path":"notes/a.txt","view_range":[2,-1]}`)
	require.NoError(t, err)
	assert.Equal(t, "     2\ttwo\n     3\tthree", out)

	_, err = e.call(ctx, `{"command":"str_replace","path":"notes/a.txt","old_str":"two","new_str":"TWO"}`)
	require.NoError(t, err)

	_, err = e.call(ctx, `{"command":"insert","path":"notes/a.txt","insert_line":0,"new_str":"zero"}`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "zero\none\nTWO\nthree\n", string(data))

	out, err = e.call(ctx, `{"command":"view","path":"."}`)
	require.NoError(t, err)
	assert.Equal(t, "notes/", out)
}

func TestEditorRejects(t *testing.T) {
	e, _ := newTestEditor(t)
	ctx := context.Background()

	_, err := e.call(ctx, `{"command":"create","path":"a.txt","file_text":"x x"}`)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", `not json`},
		{"outside root", `{"command":"view","path":"../etc/passwd"}`},
		{"absolute outside root", `{"command":"view","path":"/etc/passwd"}`},
		{"unknown command", `{"command":"delete","path":"a.txt"}`},
		{"ambiguous replace", `{"command":"str_replace","path":"a.txt","old_str":"x","new_str":"y"}`},
		{"missing replace", `{"command":"str_replace","path":"a.txt","old_str":"z","new_str":"y"}`},
		{"missing insert line", `{"command":"insert","path":"a.txt","new_str":"y"}`},
		{"short view range", `{"command":"view","path":"a.txt","view_range":[1]}`},
		{"insert out of range", `{"command":"insert","path":"a.txt","insert_line":5,"new_str":"y"}`},
		{"missing file", `{"command":"view","path":"b.txt"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.call(ctx, tt.input)
			assert.Error(t, err)
		})
	}
}

func TestEditorRejectsSymlinkEscape(t *testing.T) {
	e, root := newTestEditor(t)
	ctx := context.Background()

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "gone"), filepath.Join(root, "dangling")))

	inputs := []string{
		`{"command":"view","path":"link/secret.txt"}`,
		`{"command":"create","path":"link/new.txt","file_text":"x"}`,
		`{"command":"create","path":"dangling","file_text":"x"}`,
	}
	for _, input := range inputs {
		_, err := e.call(ctx, input)
		assert.Error(t, err, input)
	}

	assert.NoFileExists(t, filepath.Join(outside, "new.txt"))
	assert.NoFileExists(t, filepath.Join(outside, "gone"))

	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "inner")))
	_, err := e.call(ctx, `{"command":"create","path":"inner/ok.txt","file_text":"x"}`)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "real", "ok.txt"))
}

type stubBackend struct{}

func (stubBackend) Add(_ context.Context, _, text string) (string, error) {
	return "ok " + text, nil
}

func (stubBackend) Search(_ context.Context, _, query string) (string, error) {
	return "found " + query, nil
}

func (stubBackend) Close() error {
	return nil
}

func TestKnowledgeTools(t *testing.T) {
	kb := knowledge.NewWithBackend(stubBackend{}, nil)
	toolset := createKnowledgeTools(kb)
	require.Len(t, toolset, 2)

	assert.Equal(t, ToolAddKnowledge, toolset[0].Name())
	out, err := toolset[0].Call(context.Background(), "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, "Successfully stored information: ok Acme Corp", out)

	assert.Equal(t, ToolSearchKnowledge, toolset[1].Name())
	out, err = toolset[1].Call(context.Background(), " Acme ")
	require.NoError(t, err)
	assert.Equal(t, "found Acme", out)
}

func TestMCPToolAdapter(t *testing.T) {
	ctx := context.Background()

	srv := server.NewMCPServer("echo", "1.0.0", server.WithToolCapabilities(false))
	srv.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo the message back"),
			mcp.WithString("message", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			msg, err := req.RequireString("message")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText("echo: " + msg), nil
		},
	)

	c, err := client.NewInProcessClient(srv)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	wrapper, err := loadMCPTools(ctx, "test", c)
	require.NoError(t, err)
	require.Len(t, wrapper.tools, 1)

	tool := wrapper.tools[0]
	assert.Equal(t, "test_echo", tool.Name())
	assert.Contains(t, tool.Description(), "Echo the message back")

	out, err := tool.Call(ctx, `{"message":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	out, err = tool.Call(ctx, "plain text")
	require.NoError(t, err)
	assert.Equal(t, "echo: plain text", out)

	out, err = tool.Call(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "echo:", out)
}
