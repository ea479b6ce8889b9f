package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/minasoft/hl7-liteboard/internal/agent"
	"github.com/minasoft/hl7-liteboard/internal/config"
	"github.com/minasoft/hl7-liteboard/internal/hl7"
	"github.com/minasoft/hl7-liteboard/internal/processing"
	"github.com/minasoft/hl7-liteboard/internal/store"
	"github.com/nats-io/nats.go/jetstream"
)

// Deps are the components the HTTP API is a thin surface over.
type Deps struct {
	Store  store.Store
	Intake *processing.Coordinator
	Status *processing.StatusTracker
	Agent  agent.Converter
	// JS is optional; when nil the NATS health component is skipped.
	JS jetstream.JetStream
}

type Server struct {
	echo   *echo.Echo
	deps   Deps
	config *config.Config
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:   e,
		deps:   deps,
		config: cfg,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.WebPort)
	slog.Info("Web sunucu başlatılıyor", "port", s.config.WebPort)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("Web sunucu hatası", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")
	api.GET("/health", s.handleHealth)

	api.POST("/messages/text", s.handleSubmitText)
	api.POST("/messages/upload", s.handleUpload)
	api.POST("/messages/batch", s.handleBatchUpload)
	api.GET("/messages/:id", s.handleGetMessage)
	api.GET("/messages/:id/status", s.handleGetStatus)
	api.GET("/messages/:id/formats/:format", s.handleGetFormat)
	api.GET("/messages/:id/logs", s.handleGetLogs)
	api.GET("/messages/:id/triage", s.handleTriage)

	api.POST("/conversions", s.handleSaveConversion)
	api.GET("/conversions/:id", s.handleGetConversion)
	api.DELETE("/conversions/:id", s.handleDeleteConversion)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	components := make(map[string]string)
	overallStatus := "healthy"

	if s.deps.JS != nil {
		if _, err := s.deps.JS.AccountInfo(ctx); err != nil {
			components["nats"] = "unhealthy: " + err.Error()
			overallStatus = "degraded"
		} else {
			components["nats"] = "healthy"
		}
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		components["store"] = "unhealthy: " + err.Error()
		overallStatus = "unhealthy"
	} else {
		components["store"] = "healthy"
	}

	if err := s.deps.Agent.Health(ctx); err != nil {
		components["agent"] = "unhealthy: " + err.Error()
		if overallStatus == "healthy" {
			overallStatus = "degraded"
		}
	} else {
		components["agent"] = "healthy (" + s.deps.Agent.Name() + ")"
	}

	health := map[string]interface{}{
		"status":     overallStatus,
		"timestamp":  time.Now(),
		"components": components,
		"version":    "1.0.0",
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, health)
}

// httpError maps domain errors to HTTP responses; anything unexpected is
// logged and hidden behind a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, hl7.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Kayıt bulunamadı")
	case errors.Is(err, store.ErrDuplicateContent):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, processing.ErrDispatch):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Dönüşüm kuyruğu kullanılamıyor")
	default:
		slog.Error("İstek işlenemedi", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Sunucu hatası")
	}
}
