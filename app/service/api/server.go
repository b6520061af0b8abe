package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/dinindunz/strands-agent-cli/app/service/agent"
	"github.com/dinindunz/strands-agent-cli/app/util/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

type InvokeRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

type Server struct {
	addr     string
	app      *fiber.App
	agent    Invoker
	validate *validator.Validate
}

func New(di *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](di)
	agentService := do.MustInvoke[*agent.Service](di)
	m := do.MustInvoke[*metrics.Metrics](di)

	addr := net.JoinHostPort(cfg.Agent.Host, strconv.Itoa(cfg.Agent.Port))

	return NewServer(addr, agentService, m), nil
}

func NewServer(addr string, invoker Invoker, m *metrics.Metrics) *Server {
	s := &Server{
		addr:     addr,
		agent:    invoker,
		validate: validator.New(),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "strands-agent",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(requestLogger)

	s.app.Post("/invoke", s.handleInvoke)
	s.app.Get("/health", handleHealth)
	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Agent server listening", slog.String("addr", s.addr))
		if err := s.app.Listen(s.addr); err != nil {
			return oops.In("server").With("addr", s.addr).Errorf("failed to listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down agent server")
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return oops.In("server").Errorf("failed to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) handleInvoke(c *fiber.Ctx) error {
	var req InvokeRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "prompt is required")
	}

	result, err := s.agent.Invoke(c.UserContext(), req.Prompt)
	if err != nil {
		slog.Error("Agent invocation failed",
			slog.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			slog.Any("error", err),
		)
		return c.JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"result": result})
}

func handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	slog.Debug("HTTP request",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("status", c.Response().StatusCode()),
		slog.Duration("duration", time.Since(start)),
		slog.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
	)

	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
