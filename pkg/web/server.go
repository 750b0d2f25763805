// Package web serves the request/response voice API, health and metrics.
package web

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-voicerelay/pkg/auth"
	"github.com/teslashibe/go-voicerelay/pkg/history"
	"github.com/teslashibe/go-voicerelay/pkg/relay"
	"github.com/teslashibe/go-voicerelay/pkg/voice"
)

// DefaultBodyLimit allows a few minutes of compressed audio.
const DefaultBodyLimit = 16 * 1024 * 1024

// DefaultMaxSessions is the default number of REST histories per subject.
const DefaultMaxSessions = 16

// Processor runs one utterance synchronously.
type Processor interface {
	Process(ctx context.Context, req voice.Request) (*voice.Result, error)
}

// Config wires the server to the rest of the service.
type Config struct {
	Processor Processor
	Verifier  *auth.Verifier

	// Registry holds REST conversation history keyed by session.
	Registry *history.Registry

	// Hub, when set, mounts the WebSocket surface and session listing.
	Hub *relay.Hub

	// Metrics, when set, backs /metrics and /api/voice/stats.
	Metrics *voice.MetricsCollector

	CORSOrigins []string
	StaticDir   string
	Version     string
	Debug       bool
	BodyLimit   int

	// RateLimit caps /api requests per minute per subject. Zero disables it.
	RateLimit int

	// MaxSessionsPerSubject caps the REST histories one subject may hold;
	// opening another discards its least recently used one. Defaults to
	// DefaultMaxSessions.
	MaxSessionsPerSubject int

	// HistoryIdleTTL discards REST histories unused for this long. Zero
	// keeps them until cleared.
	HistoryIdleTTL time.Duration

	// Health, when set, is checked by /health (cached for DefaultHealthTTL).
	Health HealthChecker

	Logger *slog.Logger
}

// Server is the HTTP front door of the relay
type Server struct {
	app     *fiber.App
	cfg     Config
	logger  *slog.Logger
	started time.Time
	health  *healthCache

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer creates the fiber app and registers every route
func NewServer(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = history.NewRegistry(history.DefaultLimit)
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.MaxSessionsPerSubject <= 0 {
		cfg.MaxSessionsPerSubject = DefaultMaxSessions
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  log.With("component", "web"),
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	if cfg.Health != nil {
		s.health = newHealthCache(cfg.Health, DefaultHealthTTL, DefaultHealthTimeout)
	}
	if cfg.HistoryIdleTTL > 0 {
		go s.evictIdle(cfg.HistoryIdleTTL)
	}

	app := fiber.New(fiber.Config{
		AppName:               "Voice Relay",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
	})

	app.Use(recover.New())
	if len(cfg.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + HeaderSessionID,
		}))
	}
	if cfg.Debug {
		app.Use(logger.New())
	}

	// Unauthenticated
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	if cfg.Hub != nil {
		cfg.Hub.RegisterRoutes(app)
	}

	api := app.Group("/api", auth.Middleware(cfg.Verifier, false, s.logger))
	if cfg.RateLimit > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:          cfg.RateLimit,
			Expiration:   time.Minute,
			KeyGenerator: auth.Subject,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
			},
		}))
	}
	s.RegisterAPIRoutes(api)
	if cfg.Hub != nil {
		cfg.Hub.RegisterAPIRoutes(api)
	}

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr, "version", s.cfg.Version)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for handlers to finish
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.app.ShutdownWithContext(ctx)
}

// evictIdle periodically drops REST histories unused for ttl.
func (s *Server) evictIdle(ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.cfg.Registry.EvictIdle(ttl); n > 0 {
				s.logger.Debug("evicted idle histories", "count", n, "remaining", s.cfg.Registry.Len())
			}
		}
	}
}

// RegisterAPIRoutes registers the voice API on an authenticated router
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	v := api.Group("/voice")
	v.Post("/audio", s.handleAudio)
	v.Post("/text", s.handleText)
	v.Get("/history", s.handleGetHistory)
	v.Delete("/history", s.handleClearHistory)
	v.Get("/stats", s.handleStats)
}
