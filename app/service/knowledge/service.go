package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dinindunz/strands-agent-cli/app/client/llm"
	"github.com/dinindunz/strands-agent-cli/app/client/mcpmemory"
	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/dinindunz/strands-agent-cli/app/service/memory"
	"github.com/dinindunz/strands-agent-cli/app/util/metrics"
	"github.com/dinindunz/strands-agent-cli/app/util/tokenizer"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const (
	BackendLocal = "local"
	BackendMCP   = "mcp"

	opAdd    = "add"
	opSearch = "search"
)

type Backend interface {
	Add(ctx context.Context, session, text string) (string, error)
	Search(ctx context.Context, session, query string) (string, error)
	Close() error
}

// Service is the one knowledge base client of the process. All calls share
// the session id it was created with.
type Service struct {
	backend Backend
	session string
	metrics *metrics.Metrics
}

func New(di *do.Injector) (*Service, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)
	m := do.MustInvoke[*metrics.Metrics](di)

	var (
		backend Backend
		err     error
	)

	switch cfg.Knowledge.Backend {
	case BackendMCP:
		backend, err = mcpmemory.New(ctx, cfg.Knowledge.MCP.Command, cfg.Knowledge.MCP.Args)
	case BackendLocal:
		backend, err = newLocalBackend(ctx, di, cfg)
	default:
		err = oops.In("knowledge").With("backend", cfg.Knowledge.Backend).Errorf("unknown knowledge backend")
	}
	if err != nil {
		return nil, err
	}

	s := NewWithBackend(backend, m)

	slog.Info("Knowledge base ready",
		slog.String("backend", cfg.Knowledge.Backend),
		slog.String("session", s.session),
	)

	return s, nil
}

func NewWithBackend(backend Backend, m *metrics.Metrics) *Service {
	return &Service{
		backend: backend,
		session: uuid.NewString(),
		metrics: m,
	}
}

func (s *Service) Session() string {
	return s.session
}

// Store never fails: errors come back as text the agent can read.
func (s *Service) Store(ctx context.Context, data string) string {
	result, err := s.backend.Add(ctx, s.session, data)
	s.count(opAdd, err)

	if err != nil {
		slog.ErrorContext(ctx, "Knowledge base add failed", slog.Any("error", err))
		return fmt.Sprintf("Error storing information: %s", err)
	}

	return fmt.Sprintf("Successfully stored information: %s", result)
}

// Search never fails: errors come back as text the agent can read.
func (s *Service) Search(ctx context.Context, query string) string {
	result, err := s.backend.Search(ctx, s.session, query)
	s.count(opSearch, err)

	if err != nil {
		slog.ErrorContext(ctx, "Knowledge base search failed", slog.Any("error", err))
		return fmt.Sprintf("Error searching knowledge base: %s", err)
	}

	return result
}

func (s *Service) count(op string, err error) {
	if s.metrics != nil {
		s.metrics.KnowledgeOps.WithLabelValues(op, metrics.Outcome(err)).Inc()
	}
}

func (s *Service) Shutdown() error {
	return s.backend.Close()
}

type localBackend struct {
	svc *memory.Service
}

// newLocalBackend opens the on-disk knowledge base. Without LLM settings the
// graph is not extracted and searches return raw context.
func newLocalBackend(ctx context.Context, di *do.Injector, cfg *config.Config) (*localBackend, error) {
	opts := memory.Options{
		Root:           cfg.Knowledge.Root,
		Tokenizer:      do.MustInvoke[*tokenizer.Resolver](di),
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		ChunkTokens:    cfg.Knowledge.ChunkTokens,
		ChunkOverlap:   *cfg.Knowledge.ChunkOverlap,
		SearchLimit:    cfg.Knowledge.SearchLimit,
		ExtractGraph:   *cfg.Knowledge.ExtractGraph,
		CompleteSearch: *cfg.Knowledge.CompleteSearch,
		SessionScoped:  cfg.Knowledge.SessionScopedSearch,
	}

	if err := cfg.Require(config.ScopeLLM); err == nil {
		client, err := do.Invoke[*llm.Client](di)
		if err != nil {
			return nil, err
		}
		opts.Model = client.Model
		opts.Embedder = client.Embedder
	} else {
		slog.Warn("LLM is not configured, knowledge graph extraction disabled", slog.Any("error", err))
	}

	svc, err := memory.New(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &localBackend{svc: svc}, nil
}

func (b *localBackend) Add(ctx context.Context, session, text string) (string, error) {
	res, err := b.svc.Add(ctx, session, text)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (b *localBackend) Search(ctx context.Context, session, query string) (string, error) {
	res, err := b.svc.Search(ctx, session, query)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (b *localBackend) Close() error {
	return b.svc.Close()
}

// NewLocal wraps an opened memory service as a backend.
func NewLocal(svc *memory.Service) Backend {
	return &localBackend{svc: svc}
}
