package memory

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// wordEncoder treats every whitespace separated word as one token.
type wordEncoder struct {
	mu    sync.Mutex
	words []string
	ids   map[string]int
}

func newWordEncoder() *wordEncoder {
	return &wordEncoder{ids: make(map[string]int)}
}

func (e *wordEncoder) Encode(text string, _ []string, _ []string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()

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

type fakeModel struct {
	mu         sync.Mutex
	extraction string
	answer     string
	prompts    []string
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt.String())
	m.mu.Unlock()

	out := m.answer
	if strings.Contains(prompt.String(), "You build a knowledge graph") {
		out = m.extraction
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: out}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// hashEmbedder is a bag of words embedding over a small number of buckets.
type hashEmbedder struct{}

func (hashEmbedder) embed(text string) []float32 {
	vec := make([]float32, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,:;-$")))
		vec[h.Sum32()%32]++
	}
	return vec
}

func (e hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()

	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.Encoder == nil {
		opts.Encoder = newWordEncoder()
	}

	svc, err := New(context.Background(), opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = svc.Close()
	})

	return svc
}

const acmeExtraction = `{
  "entities": [
    {"name": "Acme Corp", "type": "organization", "observations": ["Industry: Healthcare", "Contract Value: $1.2M"]},
    {"name": "Healthcare", "type": "industry", "observations": []}
  ],
  "relations": [
    {"source": "Acme Corp", "target": "Healthcare", "type": "operates_in"},
    {"source": "Acme Corp", "target": "Contract", "type": "signed"}
  ]
}`
