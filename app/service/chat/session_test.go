package chat

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dinindunz/strands-agent-cli/app/client/agentapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeAgent struct {
	mu      sync.Mutex
	healthy bool
	prompts []string
	invoke  func(ctx context.Context, prompt string) agentapi.Response
}

func (f *fakeAgent) Health(context.Context) bool {
	return f.healthy
}

func (f *fakeAgent) Invoke(ctx context.Context, prompt string) agentapi.Response {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.invoke != nil {
		return f.invoke(ctx, prompt)
	}
	return agentapi.Response{"result": "echo " + prompt}
}

type upperRenderer struct{}

func (upperRenderer) Render(markdown string) (string, error) {
	return strings.ToUpper(markdown) + "\n\n", nil
}

func TestUnhealthyAgent(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out bytes.Buffer
	agent := &fakeAgent{}

	err := NewSession(agent, strings.NewReader("hello\n"), &out).Run(context.Background())
	require.ErrorIs(t, err, ErrUnhealthy)
	assert.Contains(t, out.String(), "Agent is not running or not healthy!")
	assert.Empty(t, agent.prompts)
}

func TestChatLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out bytes.Buffer
	agent := &fakeAgent{healthy: true}

	input := "hello\n\nhelp\n  second message  \nQuit\nnever sent\n"
	err := NewSession(agent, strings.NewReader(input), &out).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"hello", "second message"}, agent.prompts)

	text := out.String()
	assert.Contains(t, text, "✅ Agent is running and healthy!")
	assert.Contains(t, text, "🤖 Agent: echo hello")
	assert.Contains(t, text, "💭 Please enter a message")
	assert.Contains(t, text, "📚 Help - Available Commands:")
	assert.Contains(t, text, "👋 Goodbye!")
}

func TestChatEndsOnEOF(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out bytes.Buffer
	agent := &fakeAgent{healthy: true}

	err := NewSession(agent, strings.NewReader("hello"), &out).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, agent.prompts)
	assert.True(t, strings.HasSuffix(out.String(), "👋 Goodbye!\n"))
}

func TestChatFormatsErrorsAndRenders(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out bytes.Buffer
	agent := &fakeAgent{
		healthy: true,
		invoke: func(_ context.Context, prompt string) agentapi.Response {
			if prompt == "fail" {
				return agentapi.Response{"error": "Request failed: boom"}
			}
			return agentapi.Response{"result": "**" + prompt + "**"}
		},
	}

	err := NewSession(agent, strings.NewReader("fail\nok\nexit\n"), &out, WithRenderer(upperRenderer{})).
		Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, out.String(), "❌ ERROR: REQUEST FAILED: BOOM")
	assert.Contains(t, out.String(), "🤖 Agent: **OK**\n")
}

func TestChatStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var out bytes.Buffer
	agent := &fakeAgent{
		healthy: true,
		invoke: func(context.Context, string) agentapi.Response {
			cancel()
			return agentapi.Response{"error": "Request failed: context canceled"}
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- NewSession(agent, pr, &out).Run(ctx)
	}()

	_, err := pw.Write([]byte("interrupt me\n"))
	require.NoError(t, err)

	require.NoError(t, <-done)
	require.NoError(t, pw.Close())

	assert.Contains(t, out.String(), "Chat interrupted. Goodbye!")
}

func TestMarkdownRenderer(t *testing.T) {
	r, err := NewMarkdownRenderer(80)
	require.NoError(t, err)

	out, err := r.Render("# Title\n\nsome **bold** text")
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
}
