// Package server exposes the generation flow over a local HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/fcinq/genchat/internal/orchestrator"
	"github.com/fcinq/genchat/internal/session"
)

const (
	shutdownTimeout = 10 * time.Second
	// bodyLimit leaves room for multipart framing around a maximum-size upload.
	bodyLimit = "21M"
)

type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Session      *session.Manager
	Log          logrus.FieldLogger
}

// Server is an echo application bound to one orchestrator. Its image
// context and running total are shared by every client.
type Server struct {
	orch    *orchestrator.Orchestrator
	session *session.Manager
	log     logrus.FieldLogger
	echo    *echo.Echo
}

func New(opts Options) *Server {
	s := &Server{
		orch:    opts.Orchestrator,
		session: opts.Session,
		log:     opts.Log,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			entry := s.log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))

	s.echo = e
	s.RegisterRoutes(e)
	return s
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/session", s.GetSession)
	api.GET("/models", s.ListModels)
	api.GET("/context", s.ListContext)
	api.POST("/context", s.UploadContext, s.rejectInFlight)
	api.POST("/context/select", s.SelectContext, s.rejectInFlight)
	api.DELETE("/context/:id", s.RemoveContext, s.rejectInFlight)
	api.DELETE("/context", s.ClearContext, s.rejectInFlight)
	api.POST("/generate", s.Generate)
	api.GET("/cost", s.GetCost)

	e.GET("/healthz", s.Health)
}

// Handler returns the http.Handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	s.log.WithField("addr", addr).Info("http api listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http api stopped")
	return nil
}
