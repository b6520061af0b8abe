package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/util/tokenizer"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Log       Log       `yaml:"log"`
	LLM       LLM       `yaml:"llm" validate:"-"`
	Agent     Agent     `yaml:"agent" validate:"-"`
	Knowledge Knowledge `yaml:"knowledge"`
	Tokenizer Tokenizer `yaml:"tokenizer"`
	Graph     Graph     `yaml:"graph" validate:"-"`
	Chat      Chat      `yaml:"chat"`
}

type Log struct {
	// Minimum level: debug, info, warn or error
	Level string `yaml:"level" example:"debug" validate:"oneof=debug info warn error"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type LLM struct {
	// OpenAI compatible base url
	Endpoint string `yaml:"endpoint" example:"https://openrouter.ai/api/v1" validate:"required,url"`
	// API key for the endpoint
	APIKey string `yaml:"api_key" example:"sk-proj-abc123456789DEF789ghi012JKL345" validate:"required"`
	// Chat model, provider prefixes are stripped before use
	Model string `yaml:"model" example:"openai/gpt-4o" validate:"required"`
	// Embedding model, embeddings are disabled when empty
	EmbeddingModel string `yaml:"embedding_model" example:"openai/text-embedding-3-small"`
	// HTTP timeout of a single model call
	Timeout time.Duration `yaml:"timeout" example:"5m" validate:"min=0"`
}

type Agent struct {
	// Listen host
	Host string `yaml:"host" example:"0.0.0.0"`
	// Listen port
	Port int `yaml:"port" example:"8888" validate:"required,min=1,max=65535"`
	// Max reasoning iterations per prompt
	MaxIterations int `yaml:"max_iterations" example:"10" validate:"min=1"`
	Shell         Shell       `yaml:"shell"`
	Editor        Editor      `yaml:"editor"`
	MCPServers    []MCPServer `yaml:"mcp_servers" validate:"dive"`
}

type Shell struct {
	Enabled *bool         `yaml:"enabled" example:"true"`
	Timeout time.Duration `yaml:"timeout" example:"2m"`
	WorkDir string        `yaml:"work_dir" example:"."`
}

type Editor struct {
	Enabled *bool `yaml:"enabled" example:"true"`
	// Files outside of this directory are rejected
	Root string `yaml:"root" example:"."`
}

type MCPServer struct {
	Name    string   `yaml:"name" example:"fetch" validate:"required"`
	Command string   `yaml:"command" example:"uvx" validate:"required"`
	Args    []string `yaml:"args" example:"[mcp-server-fetch]"`
}

type Knowledge struct {
	// local or mcp
	Backend string `yaml:"backend" example:"local" validate:"oneof=local mcp"`
	// Root of the knowledge base files, databases live in <root>/databases
	Root string `yaml:"root" example:".knowledge_system"`
	// Max hits per search
	SearchLimit int `yaml:"search_limit" example:"5" validate:"min=1"`
	// Chunk window in tokens
	ChunkTokens int `yaml:"chunk_tokens" example:"512" validate:"min=16"`
	// Overlap between consecutive chunks in tokens, 0 disables it
	ChunkOverlap *int `yaml:"chunk_overlap" example:"64" validate:"omitempty,min=0,ltfield=ChunkTokens"`
	// Extract entities and relations with the LLM
	ExtractGraph *bool `yaml:"extract_graph" example:"true"`
	// Answer searches with the LLM instead of returning raw context
	CompleteSearch *bool `yaml:"complete_search" example:"true"`
	// Restrict chunk hits to data stored by the running session
	SessionScopedSearch bool `yaml:"session_scoped_search" example:"false"`
	MCP                 KnowledgeMCP `yaml:"mcp"`
}

type KnowledgeMCP struct {
	Command string   `yaml:"command" example:"docker"`
	Args    []string `yaml:"args" example:"[run, --rm, -i, mcp/memory]"`
}

type Tokenizer struct {
	// Model name aliases understood by the tokenizer
	Aliases map[string]string `yaml:"aliases"`
}

type Graph struct {
	// Visualisation server interface
	Host string `yaml:"host" example:"localhost"`
	// Visualisation server port
	Port int `yaml:"port" example:"8080" validate:"required,min=1,max=65535"`
	// Generated visualisation file
	Output string `yaml:"output" example:"graph_visualisation.html" validate:"required"`
}

type Chat struct {
	// Agent server url, derived from agent.port when empty
	URL string `yaml:"url" example:"http://localhost:8888"`
	// Timeout of a single prompt
	Timeout time.Duration `yaml:"timeout" example:"3000s"`
}

type Scope int

const (
	ScopeLLM Scope = iota
	ScopeAgent
	ScopeGraph
)

func (s Scope) String() string {
	switch s {
	case ScopeLLM:
		return "llm"
	case ScopeAgent:
		return "agent"
	case ScopeGraph:
		return "graph"
	default:
		return "unknown"
	}
}

// StructNamespace of a validated field -> environment variable that sets it.
var fieldEnv = map[string]string{
	"LLM.Endpoint": "LLM_ENDPOINT",
	"LLM.APIKey":   "LLM_API_KEY",
	"LLM.Model":    "LLM_MODEL",
	"Agent.Port":   "AGENT_PORT",
	"Graph.Port":   "GRAPH_PORT",
}

func Load(path string) (*Config, error) {
	var result Config

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.In("config").Errorf("failed to load .env file: %w", err)
	}

	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, oops.In("config").Errorf("failed to read config file: %w", err)
	default:
		if err = yaml.Unmarshal(data, &result); err != nil {
			return nil, oops.In("config").Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err = result.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err = result.applyDefaults(); err != nil {
		return nil, err
	}

	if err = newValidator().Struct(result); err != nil {
		return nil, oops.In("config").Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

// Require checks the fields a command cannot run without.
func (c *Config) Require(scopes ...Scope) error {
	validate := newValidator()

	for _, scope := range scopes {
		var target any
		switch scope {
		case ScopeLLM:
			target = c.LLM
		case ScopeAgent:
			target = c.Agent
		case ScopeGraph:
			target = c.Graph
		default:
			return oops.In("config").Errorf("unknown scope %d", scope)
		}

		if err := validate.Struct(target); err != nil {
			return oops.In("config").
				With("scope", scope.String()).
				Errorf("invalid %s configuration: %s", scope, describe(err))
		}
	}

	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return oops.In("config").With("env", key).Errorf("%s must be a number: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_TELEGRAM_TOKEN", &c.Log.Telegram.Token)
	str("LOG_TELEGRAM_CHAT_ID", &c.Log.Telegram.ChatID)
	str("LLM_ENDPOINT", &c.LLM.Endpoint)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_EMBEDDING_MODEL", &c.LLM.EmbeddingModel)
	str("AGENT_HOST", &c.Agent.Host)
	str("GRAPH_HOST", &c.Graph.Host)
	str("KNOWLEDGE_BACKEND", &c.Knowledge.Backend)
	str("KNOWLEDGE_ROOT", &c.Knowledge.Root)
	str("AGENT_URL", &c.Chat.URL)

	if err := num("AGENT_PORT", &c.Agent.Port); err != nil {
		return err
	}
	if err := num("GRAPH_PORT", &c.Graph.Port); err != nil {
		return err
	}

	return nil
}

func (c *Config) applyDefaults() error {
	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)

	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 5 * time.Minute
	}

	if c.Agent.Host == "" {
		c.Agent.Host = "0.0.0.0"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.Shell.Enabled == nil {
		c.Agent.Shell.Enabled = ptr(true)
	}
	if c.Agent.Editor.Enabled == nil {
		c.Agent.Editor.Enabled = ptr(true)
	}
	if c.Agent.Shell.Timeout == 0 {
		c.Agent.Shell.Timeout = 2 * time.Minute
	}
	if c.Agent.Shell.WorkDir == "" {
		c.Agent.Shell.WorkDir = "."
	}
	if c.Agent.Editor.Root == "" {
		c.Agent.Editor.Root = "."
	}

	if c.Knowledge.Backend == "" {
		c.Knowledge.Backend = "local"
	}
	if c.Knowledge.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return oops.In("config").Errorf("failed to get working directory: %w", err)
		}
		c.Knowledge.Root = filepath.Join(wd, ".knowledge_system")
	}
	if c.Knowledge.SearchLimit == 0 {
		c.Knowledge.SearchLimit = 5
	}
	if c.Knowledge.ChunkTokens == 0 {
		c.Knowledge.ChunkTokens = 512
	}
	if c.Knowledge.ChunkOverlap == nil {
		c.Knowledge.ChunkOverlap = ptr(min(64, c.Knowledge.ChunkTokens/8))
	}
	if c.Knowledge.ExtractGraph == nil {
		c.Knowledge.ExtractGraph = ptr(true)
	}
	if c.Knowledge.CompleteSearch == nil {
		c.Knowledge.CompleteSearch = ptr(true)
	}
	if c.Knowledge.MCP.Command == "" {
		c.Knowledge.MCP.Command = "docker"
		c.Knowledge.MCP.Args = []string{"run", "--rm", "-i", "mcp/memory"}
	}

	if len(c.Tokenizer.Aliases) == 0 {
		c.Tokenizer.Aliases = tokenizer.DefaultAliases()
	}

	if c.Graph.Host == "" {
		c.Graph.Host = "localhost"
	}
	if c.Graph.Port == 0 {
		c.Graph.Port = 8080
	}
	if c.Graph.Output == "" {
		c.Graph.Output = "graph_visualisation.html"
	}

	if c.Chat.Timeout == 0 {
		c.Chat.Timeout = 3000 * time.Second
	}

	return nil
}

// ModelID strips provider prefixes: "openai/gpt-4o" -> "gpt-4o".
func (l LLM) ModelID() string {
	parts := strings.Split(l.Model, "/")
	return parts[len(parts)-1]
}

func (k Knowledge) DatabasesDir() string {
	return filepath.Join(k.Root, "databases")
}

func (c *Config) ChatURL() string {
	if c.Chat.URL != "" {
		return strings.TrimRight(c.Chat.URL, "/")
	}
	if c.Agent.Port == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", c.Agent.Port)
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func describe(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err.Error()
	}

	parts := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		name := fe.StructNamespace()
		if env, ok := fieldEnv[name]; ok {
			name = fmt.Sprintf("%s (%s)", name, env)
		}
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", name, fe.Tag()))
	}

	return strings.Join(parts, "; ")
}

func ptr[T any](v T) *T {
	return &v
}
