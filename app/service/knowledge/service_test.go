package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dinindunz/strands-agent-cli/app/client/mcpmemory"
	"github.com/dinindunz/strands-agent-cli/app/service/memory"
	"github.com/dinindunz/strands-agent-cli/app/util/metrics"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	addErr    error
	searchErr error

	sessions []string
	added    []string
	closed   bool
}

func (f *fakeBackend) Add(_ context.Context, session, text string) (string, error) {
	f.sessions = append(f.sessions, session)
	if f.addErr != nil {
		return "", f.addErr
	}
	f.added = append(f.added, text)
	return "stored " + text, nil
}

func (f *fakeBackend) Search(_ context.Context, session, query string) (string, error) {
	f.sessions = append(f.sessions, session)
	if f.searchErr != nil {
		return "", f.searchErr
	}
	return "found " + query, nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func TestStoreFormatsResult(t *testing.T) {
	backend := &fakeBackend{}
	m := metrics.NewMetrics()
	svc := NewWithBackend(backend, m)

	out := svc.Store(context.Background(), "Acme Corp")
	assert.Equal(t, "Successfully stored information: stored Acme Corp", out)

	out = svc.Search(context.Background(), "Acme")
	assert.Equal(t, "found Acme", out)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnowledgeOps.WithLabelValues(opAdd, metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnowledgeOps.WithLabelValues(opSearch, metrics.OutcomeOK)))
}

func TestErrorsBecomeText(t *testing.T) {
	backend := &fakeBackend{
		addErr:    errors.New("disk full"),
		searchErr: errors.New("index locked"),
	}
	m := metrics.NewMetrics()
	svc := NewWithBackend(backend, m)

	assert.Equal(t, "Error storing information: disk full", svc.Store(context.Background(), "x"))
	assert.Equal(t, "Error searching knowledge base: index locked", svc.Search(context.Background(), "x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnowledgeOps.WithLabelValues(opAdd, metrics.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnowledgeOps.WithLabelValues(opSearch, metrics.OutcomeError)))
}

func TestOneSessionPerService(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewWithBackend(backend, nil)

	svc.Store(context.Background(), "a")
	svc.Store(context.Background(), "a")
	svc.Search(context.Background(), "a")

	// every call reaches the backend, no dedup
	assert.Equal(t, []string{"a", "a"}, backend.added)
	require.Len(t, backend.sessions, 3)
	for _, s := range backend.sessions {
		assert.Equal(t, svc.Session(), s)
	}

	other := NewWithBackend(backend, nil)
	assert.NotEqual(t, svc.Session(), other.Session())

	require.NoError(t, svc.Shutdown())
	assert.True(t, backend.closed)
}

// wordEncoder treats every whitespace separated word as one token.
type wordEncoder struct {
	mu    sync.Mutex
	words []string
	ids   map[string]int
}

func (e *wordEncoder) Encode(text string, _ []string, _ []string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ids == nil {
		e.ids = make(map[string]int)
	}

	var tokens []int
	for _, w := range strings.Fields(text) {
		id, ok := e.ids[w]
		if !ok {
			id = len(e.words)
			e.words = append(e.words, w)
			e.ids[w] = id
		}
		tokens = append(tokens, id)
	}
	return tokens
}

func (e *wordEncoder) Decode(tokens []int) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = e.words[t]
	}
	return strings.Join(words, " ")
}

func TestLocalStoreThenSearch(t *testing.T) {
	ctx := context.Background()

	mem, err := memory.New(ctx, memory.Options{
		Root:    t.TempDir(),
		Encoder: &wordEncoder{},
	})
	require.NoError(t, err)

	svc := NewWithBackend(NewLocal(mem), metrics.NewMetrics())
	defer svc.Shutdown()

	stored := svc.Store(ctx, "Contract signed with Acme Corp - Industry: Healthcare, Contract Value: $1.2M")
	assert.True(t, strings.HasPrefix(stored, "Successfully stored information: "), stored)

	found := svc.Search(ctx, "Acme Corp healthcare contract")
	assert.NotContains(t, found, "Error searching knowledge base")
	assert.Contains(t, found, "Acme Corp")
}

func newMemoryMCPServer() *server.MCPServer {
	srv := server.NewMCPServer("memory", "1.0.0", server.WithToolCapabilities(false))

	var (
		mu   sync.Mutex
		seen []string
	)

	srv.AddTool(
		mcp.NewTool("create_entities", mcp.WithArray("entities", mcp.Required())),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, _ := json.Marshal(req.GetArguments()["entities"])

			mu.Lock()
			seen = append(seen, string(raw))
			mu.Unlock()

			return mcp.NewToolResultText(string(raw)), nil
		},
	)

	srv.AddTool(
		mcp.NewTool("search_nodes", mcp.WithString("query", mcp.Required())),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			query, err := req.RequireString("query")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			mu.Lock()
			defer mu.Unlock()

			var hits []string
			for _, s := range seen {
				if strings.Contains(strings.ToLower(s), strings.ToLower(query)) {
					hits = append(hits, s)
				}
			}
			if len(hits) == 0 {
				return mcp.NewToolResultText(`{"entities":[],"relations":[]}`), nil
			}

			return mcp.NewToolResultText(strings.Join(hits, "\n")), nil
		},
	)

	return srv
}

func TestMCPStoreThenSearch(t *testing.T) {
	ctx := context.Background()

	inProcess, err := client.NewInProcessClient(newMemoryMCPServer())
	require.NoError(t, err)
	require.NoError(t, inProcess.Start(ctx))

	backend, err := mcpmemory.NewFromClient(ctx, inProcess)
	require.NoError(t, err)

	svc := NewWithBackend(backend, nil)
	defer svc.Shutdown()

	stored := svc.Store(ctx, "Acme Corp - Industry: Healthcare")
	assert.True(t, strings.HasPrefix(stored, "Successfully stored information: "), stored)
	assert.Contains(t, stored, svc.Session()+"-1")

	found := svc.Search(ctx, "acme corp")
	assert.NotContains(t, found, "Error searching knowledge base")
	assert.Contains(t, found, "Healthcare")
}
