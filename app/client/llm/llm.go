package llm

import (
	"log/slog"
	"net/http"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client holds the chat model and, when an embedding model is configured,
// the embedder built on the same OpenAI compatible endpoint.
type Client struct {
	Model    *openai.LLM
	Embedder embeddings.Embedder
	ModelID  string
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if err := cfg.Require(config.ScopeLLM); err != nil {
		return nil, err
	}

	return NewClient(cfg.LLM)
}

func NewClient(cfg config.LLM) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.Endpoint),
		openai.WithModel(cfg.ModelID()),
		openai.WithHTTPClient(&http.Client{
			Timeout: cfg.Timeout,
		}),
	}

	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, oops.In("llm").With("endpoint", cfg.Endpoint).Errorf("failed to create model client: %w", err)
	}

	client := &Client{
		Model:   model,
		ModelID: cfg.ModelID(),
	}

	if cfg.EmbeddingModel != "" {
		embedder, err := embeddings.NewEmbedder(model)
		if err != nil {
			return nil, oops.In("llm").With("model", cfg.EmbeddingModel).Errorf("failed to create embedder: %w", err)
		}
		client.Embedder = embedder
	}

	slog.Debug("LLM client created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", client.ModelID),
		slog.String("embedding_model", cfg.EmbeddingModel),
	)

	return client, nil
}
