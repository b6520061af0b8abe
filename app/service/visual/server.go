package visual

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/dinindunz/strands-agent-cli/app/service/memory"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/samber/do"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

// Server serves the rendered page and a live view of the store. Nothing else
// in the page's directory is reachable.
type Server struct {
	addr   string
	output string
	root   string
	app    *fiber.App
}

func New(di *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if err := cfg.Require(config.ScopeGraph); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Graph.Host, strconv.Itoa(cfg.Graph.Port))

	return NewServer(addr, cfg.Graph.Output, cfg.Knowledge.Root), nil
}

func NewServer(addr, output, root string) *Server {
	s := &Server{
		addr:   addr,
		output: output,
		root:   root,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "graph-visualisation",
		DisableStartupMessage: true,
	})

	s.app.Use(recover.New())
	s.app.Get("/live", s.handleLive)
	s.app.Get("/", s.handlePage)
	s.app.Get("/"+filepath.Base(output), s.handlePage)

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Visualisation server listening",
			slog.String("addr", s.addr),
			slog.String("output", s.output),
		)
		if err := s.app.Listen(s.addr); err != nil {
			return oops.In("visual").With("addr", s.addr).Errorf("failed to listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down visualisation server")
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return oops.In("visual").Errorf("failed to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) handlePage(c *fiber.Ctx) error {
	return c.SendFile(s.output)
}

func (s *Server) handleLive(c *fiber.Ctx) error {
	store, err := memory.OpenStore(c.UserContext(), s.root)
	if err != nil {
		return err
	}
	defer store.Close()

	graph, err := store.Graph(c.UserContext())
	if err != nil {
		return err
	}

	c.Type("html", "utf-8")

	return Render(c, graph)
}
