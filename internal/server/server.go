package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tsukinami/koharu/internal/config"
)

// Server wraps the echo HTTP server.
type Server struct {
	echo *echo.Echo
	addr string
}

// New creates the HTTP server with all routes registered.
func New(cfg *config.Config, handler *Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handler.RegisterRoutes(e)

	return &Server{
		echo: e,
		addr: cfg.Server.Addr,
	}
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
