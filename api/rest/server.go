// Package rest provides the REST control surface of a running test.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
)

// Server represents the REST API server.
type Server struct {
	app      *fiber.App
	cs       *controlsurface.ControlSurface
	config   *Config
	registry *prometheus.Registry
}

// Config holds the configuration for the REST API server.
type Config struct {
	// Address is the address to listen on (e.g., "localhost:6565").
	Address string `yaml:"address"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         "localhost:6565",
		ShutdownTimeout: 5 * time.Second,
	}
}

// NewServer creates a new REST API server over cs.
func NewServer(cs *controlsurface.ControlSurface, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		AppName:               "load-engine",
		DisableStartupMessage: true,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(cs),
		collectors.NewGoCollector(),
	)

	server := &Server{
		app:      app,
		cs:       cs,
		config:   config,
		registry: registry,
	}
	server.setupMiddleware()
	server.setupRoutes()
	return server
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	log := logger.Named("rest")
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Debugw("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start),
		)
		return err
	})

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
			MaxAge:       86400,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	v1 := s.app.Group("/v1")
	v1.Get("/status", s.getStatus)
	v1.Get("/metrics", s.getMetrics)
	v1.Get("/metrics/realtime", s.getRealtimeMetrics)
	v1.Get("/timeseries", s.getTimeSeries)
	v1.Get("/verdict", s.getVerdict)
	v1.Post("/stop", s.stop)

	// Prometheus exposition
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: promErrorLogger{},
	})))
}

// Start starts the REST API server and blocks until it stops.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the server and shuts it down when ctx is done.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.config.ShutdownTimeout > 0 {
		return s.app.ShutdownWithTimeout(s.config.ShutdownTimeout)
	}
	return s.app.Shutdown()
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}

type promErrorLogger struct{}

func (promErrorLogger) Println(v ...interface{}) {
	logger.Named("rest").Warn(v...)
}
