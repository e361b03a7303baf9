// Package api wires the HTTP and websocket surface onto the query engine,
// the feedback service and the ingestion pipeline.
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/api/handlers"
	"github.com/wintrouble/backend/internal/feedback"
	"github.com/wintrouble/backend/internal/ingestion"
	"github.com/wintrouble/backend/internal/metrics"
	"github.com/wintrouble/backend/internal/middleware/ratelimit"
	"github.com/wintrouble/backend/internal/middleware/security"
	"github.com/wintrouble/backend/internal/middleware/validation"
	"github.com/wintrouble/backend/internal/query"
	"github.com/wintrouble/backend/internal/storage/sqlite"
)

// Deps are the services the routes call into.
type Deps struct {
	Engine     *query.Engine
	Feedback   *feedback.Service
	Queries    *sqlite.QueryLedger
	Ingester   handlers.Ingester
	Ingestions handlers.IngestionHistory
	// Enumerator backs POST /api/v1/ingest; nil disables it.
	Enumerator ingestion.Enumerator
	// Catalog backs GET /api/v1/catalog/documents; nil disables it.
	Catalog handlers.CatalogReader
	// Ready reports whether the backing stores are reachable.
	Ready  func() error
	Logger *zap.Logger
}

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
	// RateLimit is requests per minute per client; zero disables it.
	RateLimit   int
	CORSOrigins string
	UploadDir   string
	// Development relaxes HSTS and switches request logging on.
	Development bool
}

type Server struct {
	app     *fiber.App
	limiter *ratelimit.RateLimiter
	log     *zap.Logger
}

func NewServer(deps Deps, opts Options) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "wintrouble",
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		BodyLimit:             opts.BodyLimit,
		ErrorHandler:          errorHandler(log),
		DisableStartupMessage: true,
	})

	s := &Server{app: app, log: log}
	s.setupMiddleware(opts)
	s.setupRoutes(deps, opts)
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) setupMiddleware(opts Options) {
	s.app.Use(recover.New())
	if opts.Development {
		s.app.Use(fiberlogger.New())
	}

	origins := opts.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	s.app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(origins, ","),
		IsDevelopment:  opts.Development,
	}))

	if opts.RateLimit > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: opts.RateLimit,
			Logger:               s.log,
		})
	}
}

func (s *Server) setupRoutes(deps Deps, opts Options) {
	s.app.Get("/metrics", metrics.MetricsHandler())

	api := s.app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	api.Get("/ready", func(c *fiber.Ctx) error {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				s.log.Warn("Readiness check failed", zap.Error(err))
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	if s.limiter != nil {
		api.Use(s.limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{Logger: s.log}))

	queryHandler := handlers.NewQueryHandler(deps.Engine, deps.Queries, s.log)
	reactionHandler := handlers.NewReactionHandler(deps.Feedback, s.log)
	documentHandler := handlers.NewDocumentHandler(deps.Ingester, deps.Ingestions, opts.UploadDir, deps.Enumerator, s.log)
	dashboardHandler := handlers.NewDashboardHandler(deps.Queries)

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Post("/reactions", reactionHandler.HandleReaction)

	api.Post("/documents", documentHandler.UploadDocuments)
	api.Post("/ingest", documentHandler.IngestDirectory)
	api.Get("/ingestion/history", documentHandler.IngestionHistory)

	api.Get("/escalations", dashboardHandler.Escalations)
	api.Get("/metrics/overview", dashboardHandler.Overview)
	api.Get("/metrics/daily", dashboardHandler.Daily)

	if deps.Catalog != nil {
		api.Get("/catalog/documents", handlers.NewCatalogHandler(deps.Catalog).ListDocuments)
	}

	wsHandler := handlers.NewWebSocketHandler(deps.Engine, deps.Feedback, s.log)
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(wsHandler.HandleConnection))
}

// errorHandler maps domain errors onto status codes; anything unrecognized
// is logged and reported as a 500 without its message.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			code = fe.Code
			message = fe.Message
		case errors.Is(err, sqlite.ErrUnknownQuestion):
			code = fiber.StatusNotFound
			message = err.Error()
		case errors.Is(err, feedback.ErrInvalidReaction), errors.Is(err, query.ErrEmptyQuestion):
			code = fiber.StatusBadRequest
			message = err.Error()
		default:
			log.Error("Request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
