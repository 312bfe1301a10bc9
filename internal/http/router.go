package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"soulcrush/internal/config"
	"soulcrush/internal/metrics"
	"soulcrush/internal/refresh"
	"soulcrush/internal/services"
	"soulcrush/internal/store"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	store  *store.Store
	ctrl   *refresh.Controller
	logger *slog.Logger
}

// NewServer wires the JSON API around an already running refresh
// controller. rdb may be nil, which disables rate limiting.
func NewServer(cfg *config.Config, st *store.Store, ctrl *refresh.Controller, rdb redis.UniversalClient, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	svc := services.NewApplicationService(st, ctrl, logger)

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("service", svc)
		c.Locals("controller", ctrl)
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Locals("logger", logger.With("request_id", reqID))
		c.Set("X-Request-Id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		// Route pattern, not the raw path, to keep metric labels bounded.
		path := c.Route().Path

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		logger.Info("request",
			"request_id", reqID,
			"method", method,
			"path", c.Path(),
			"status", status,
			"latency_ms", latency.Milliseconds(),
		)
		return err
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := st.Ping(ctx); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		view := ctrl.View()

		status := "ok"
		if dbStatus != "ok" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
			"view":   view.State,
			"key":    view.Key.String(),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	var rateMw fiber.Handler
	if rdb != nil && cfg.RateLimit.PerMinute > 0 {
		rateMw = rateLimitMiddleware(cfg.RateLimit.PerMinute, rdb, time.Now)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1 := app.Group("/v1")
	registerV1Routes(v1, rateMw)

	return &Server{
		app:    app,
		config: cfg,
		store:  st,
		ctrl:   ctrl,
		logger: logger,
	}
}

// App exposes the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight
// requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func registerV1Routes(group fiber.Router, rateMw fiber.Handler) {
	group.Get("/statuses", statusesHandler)
	group.Get("/applications", listApplicationsHandler)
	group.Get("/applications/stream", streamApplicationsHandler)
	group.Post("/applications/refresh", refreshApplicationsHandler)
	group.Post("/applications", rateMw, createApplicationHandler)
	group.Delete("/applications/:id", rateMw, deleteApplicationHandler)
	group.Put("/applications/:id/status", rateMw, updateApplicationStatusHandler)
	group.Post("/applications/:id/advance", rateMw, advanceApplicationHandler)
}
