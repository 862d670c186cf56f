package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/telemetry"
)

// MetricsSource exposes the in-process telemetry snapshot.
type MetricsSource interface {
	GetMetrics() telemetry.Metrics
}

// Deps carries the wired dependencies the HTTP layer serves.
type Deps struct {
	Runner    Runner
	AuthStore AuthStore
	RunStore  RunStore
	Metrics   MetricsSource
}

// New builds the echo instance with middleware, the unified error handler,
// and all routes registered.
func New(cfg *config.Config, deps Deps) (*echo.Echo, error) {
	secret, err := LoadJWTSecret(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth := &AuthHandler{Store: deps.AuthStore, Secret: secret}
	auth.Register(e.Group("/api/auth"))

	orch := &OrchestrateHandler{
		Runner: deps.Runner,
		Store:  deps.RunStore,
		Debug:  cfg.General.Debug,
		Logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	api := e.Group("/api", AuthMiddleware(secret))
	orch.Register(api)

	if deps.Metrics != nil {
		api.GET("/ops/metrics", func(c echo.Context) error {
			return c.JSON(http.StatusOK, deps.Metrics.GetMetrics())
		})
	}

	return e, nil
}

// Run serves the API until the context is cancelled.
func Run(ctx context.Context, cfg *config.Config, deps Deps) error {
	e, err := New(cfg, deps)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(cfg.Server.Address) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return e.Shutdown(context.Background())
	}
}
