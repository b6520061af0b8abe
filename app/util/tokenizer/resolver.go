package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/samber/oops"
)

const FallbackEncoding = "cl100k_base"

// Encoder is the part of *tiktoken.Tiktoken the chunker needs.
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

type BaseResolver func(model string) (*tiktoken.Tiktoken, error)

type Option func(*Resolver)

// WithBaseResolver replaces tiktoken.EncodingForModel as the wrapped resolver.
func WithBaseResolver(fn BaseResolver) Option {
	return func(r *Resolver) {
		r.base = fn
	}
}

// Resolver maps gateway-specific model names to names the tokenizer knows
// before handing them to the base resolver.
type Resolver struct {
	aliases map[string]string
	base    BaseResolver

	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// DefaultAliases returns a fresh copy of the built-in alias table.
func DefaultAliases() map[string]string {
	return map[string]string{
		"au-text-embedding-3-small":        "text-embedding-3-small",
		"au-text-embedding-3-large":        "text-embedding-3-large",
		"openai/au-text-embedding-3-small": "text-embedding-3-small",
		"openai/au-text-embedding-3-large": "text-embedding-3-large",
	}
}

func NewResolver(aliases map[string]string, opts ...Option) *Resolver {
	r := &Resolver{
		aliases: make(map[string]string, len(aliases)),
		base:    tiktoken.EncodingForModel,
		cache:   make(map[string]*tiktoken.Tiktoken),
	}

	for k, v := range aliases {
		r.aliases[k] = v
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Canonical returns the alias target, or model itself when it has no alias.
func (r *Resolver) Canonical(model string) string {
	if canonical, ok := r.aliases[model]; ok {
		return canonical
	}

	return model
}

func (r *Resolver) EncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	canonical := r.Canonical(model)

	r.mu.Lock()
	defer r.mu.Unlock()

	if enc, ok := r.cache[canonical]; ok {
		return enc, nil
	}

	enc, err := r.base(canonical)
	if err != nil {
		return nil, oops.In("tokenizer").
			With("model", model).
			With("canonical", canonical).
			Errorf("failed to resolve encoding: %w", err)
	}

	r.cache[canonical] = enc

	return enc, nil
}

// EncoderFor resolves the encoding for model, falling back to cl100k_base
// when the model is unknown to the tokenizer.
func (r *Resolver) EncoderFor(model string) (Encoder, error) {
	if model != "" {
		if enc, err := r.EncodingForModel(model); err == nil {
			return enc, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := "encoding:" + FallbackEncoding
	if enc, ok := r.cache[key]; ok {
		return enc, nil
	}

	enc, err := tiktoken.GetEncoding(FallbackEncoding)
	if err != nil {
		return nil, oops.In("tokenizer").Errorf("failed to load fallback encoding: %w", err)
	}

	r.cache[key] = enc

	return enc, nil
}

var offlineOnce sync.Once

// UseOfflineBPE makes encodings load from embedded data instead of the network.
func UseOfflineBPE() {
	offlineOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}
