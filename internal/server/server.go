// Package server provides the HTTP server and Echo setup for the sync API.
package server

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/rolodex/internal/auth"
	"github.com/memohai/rolodex/internal/metrics"
)

// Server is the HTTP server (Echo) with JWT middleware and registered handlers.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// Handler registers routes on the Echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// publicPaths skip the JWT check.
var publicPaths = map[string]bool{
	"/ping":       true,
	"/health":     true,
	"/auth/login": true,
	"/metrics":    true,
}

// NewServer builds the Echo server with recovery, request logging, metrics, JWT auth, and the given handlers.
func NewServer(log *slog.Logger, addr, jwtSecret string, m *metrics.Metrics,
	handlers ...Handler,
) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			}
			if v.Error != nil && v.Status >= 500 {
				log.Error("request", append(attrs, slog.Any("error", v.Error))...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(m.Middleware())
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return publicPaths[c.Request().URL.Path]
	}))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: log.With(slog.String("component", "server")),
	}
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server (blocks until shutdown).
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Stop gracefully shuts down the server using the given context.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
