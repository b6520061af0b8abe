package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/dinindunz/strands-agent-cli/app/client/agentapi"
	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
)

var ErrUnhealthy = errors.New("agent is not running or not healthy")

var quitWords = []string{"quit", "exit", "bye"}

const separator = "=================================================="

type Agent interface {
	Health(ctx context.Context) bool
	Invoke(ctx context.Context, prompt string) agentapi.Response
}

type Renderer interface {
	Render(markdown string) (string, error)
}

// NewMarkdownRenderer renders replies as terminal markdown wrapped at width.
func NewMarkdownRenderer(width int) (Renderer, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, oops.In("chat").Errorf("failed to create markdown renderer: %w", err)
	}
	return r, nil
}

type Session struct {
	agent    Agent
	in       io.Reader
	out      io.Writer
	renderer Renderer
	command  string
}

type Option func(*Session)

// WithRenderer renders agent replies before printing them.
func WithRenderer(r Renderer) Option {
	return func(s *Session) {
		s.renderer = r
	}
}

// WithStartCommand sets the hint printed when the agent is down.
func WithStartCommand(command string) Option {
	return func(s *Session) {
		s.command = command
	}
}

func NewSession(agent Agent, in io.Reader, out io.Writer, opts ...Option) *Session {
	s := &Session{
		agent:   agent,
		in:      in,
		out:     out,
		command: "strands-agent serve",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run chats until the user quits, input ends or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.println("🤖 Agent Chat Interface")
	s.println(separator)

	s.println("🔍 Checking agent health...")
	if !s.agent.Health(ctx) {
		s.println("❌ Agent is not running or not healthy!")
		s.printf("   Please start the agent with: %s\n", s.command)
		return ErrUnhealthy
	}

	s.println("✅ Agent is running and healthy!")
	s.println("\n💡 Tips:")
	s.println("   - Type your message and press Enter")
	s.println("   - Type 'quit', 'exit', or 'bye' to end the chat")
	s.println("   - Type 'help' for assistance")
	s.println("   - Press Ctrl+C to force quit")
	s.println("\n" + separator)

	lines := s.readLines(ctx)

	for {
		s.printf("\n🧑 You: ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			s.println("\n\n👋 Goodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			s.println("\n\n👋 Goodbye!")
			return nil
		}

		input := strings.TrimSpace(line)

		switch {
		case pie.Contains(quitWords, strings.ToLower(input)):
			s.println("👋 Goodbye!")
			return nil
		case strings.EqualFold(input, "help"):
			s.showHelp()
			continue
		case input == "":
			s.println("💭 Please enter a message or type 'help' for assistance.")
			continue
		}

		s.printf("🤖 Agent: ")
		resp := s.agent.Invoke(ctx, input)

		if ctx.Err() != nil {
			s.println("\n\n👋 Chat interrupted. Goodbye!")
			return nil
		}

		s.println(s.render(agentapi.FormatResponse(resp)))
	}
}

// readLines feeds input lines until EOF or ctx is done.
func (s *Session) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines
}

func (s *Session) render(text string) string {
	if s.renderer == nil {
		return text
	}

	rendered, err := s.renderer.Render(text)
	if err != nil {
		return text
	}

	return strings.TrimRight(rendered, "\n")
}

func (s *Session) showHelp() {
	s.println("\n📚 Help - Available Commands:")
	s.println("   help     - Show this help message")
	s.println("   quit     - Exit the chat")
	s.println("   exit     - Exit the chat")
	s.println("   bye      - Exit the chat")
	s.println("\n💡 Example questions you can ask:")
	s.println("   - What are Docker best practices?")
	s.println("   - How do I design a microservices architecture?")
	s.println("   - Explain the difference between REST and GraphQL")
	s.println("   - What are the benefits of cloud computing?")
	s.println("   - How do I implement CI/CD pipelines?")
}

func (s *Session) println(text string) {
	_, _ = fmt.Fprintln(s.out, text)
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}
