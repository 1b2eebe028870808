// Package gateway exposes the job orchestrator and the ingredient cache over HTTP.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FrenchMajesty/ingredient-filter/pkg/jobs"
	"github.com/FrenchMajesty/ingredient-filter/pkg/seed"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// JobService is the part of the orchestrator the routes use
type JobService interface {
	Submit(ctx context.Context, req jobs.Request) (string, error)
	Get(id string) (jobs.Job, error)
	Abort(id string) error
}

// IngredientStore is the administrative view of the property store
type IngredientStore interface {
	ListAll(ctx context.Context) ([]types.IngredientRecord, error)
	Clear(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// Seeder loads a catalogue into the store
type Seeder func(ctx context.Context) (seed.Result, error)

// Config holds configuration for the gateway
type Config struct {
	// Jobs receives analysis requests. Required.
	Jobs JobService

	// Store backs the health and ingredient routes. Required. Pass the
	// resolver rather than the raw store so clearing also drops indexed vectors.
	Store IngredientStore

	// Seeder runs for POST /api/seed. The route answers 501 when nil.
	Seeder Seeder

	// Registry is served at /metrics when set
	Registry *prometheus.Registry

	// AccessLog enables Fiber's request logger
	AccessLog bool

	Logger *slog.Logger
}

// Server wraps the Fiber app and its collaborators.
type Server struct {
	App *fiber.App

	jobs   JobService
	store  IngredientStore
	seeder Seeder
	logger *slog.Logger

	seeding    atomic.Bool
	background sync.WaitGroup
	baseCtx    context.Context
	cancel     context.CancelFunc
}

// New creates the server and registers every route.
func New(cfg Config) (*Server, error) {
	if cfg.Jobs == nil {
		return nil, errors.New("gateway: Jobs is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("gateway: Store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName: "ingredientd",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"

			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				message = e.Message
			}
			return jsonError(c, code, message)
		},
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(logger.New())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		App:     app,
		jobs:    cfg.Jobs,
		store:   cfg.Store,
		seeder:  cfg.Seeder,
		logger:  cfg.Logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.registerRoutes(cfg.Registry)
	return s, nil
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	api := s.App.Group("/api")
	api.Post("/analyze", s.analyze)
	api.Get("/status/:id", s.status)
	api.Get("/results/:id", s.results)
	api.Delete("/jobs/:id", s.abort)
	api.Get("/health", s.health)
	api.Post("/seed", s.seed)
	api.Get("/ingredients", s.listIngredients)
	api.Delete("/ingredients", s.clearIngredients)

	if reg != nil {
		s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests, cancels background seeding and waits
// for it or ctx
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.App.ShutdownWithContext(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
