package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"itm.space/backendresources/internal/transport/mw"
)

// RouterConfig carries what NewRouter needs besides the handler.
type RouterConfig struct {
	Verifier     mw.TokenVerifier
	RequiredRole string
	AllowOrigins []string
	Metrics      *Metrics // optional
}

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Validator = newRequestValidator()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware. Metrics wrap Recover so panicking requests are counted as 500s.
	if cfg.Metrics != nil {
		e.Use(cfg.Metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics.Handler()))
	}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil {
				evt = log.Warn().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowHeaders: []string{"Authorization", "Content-Type"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	// Health (no auth required)
	e.GET("/health", h.Health)

	// API — requires authentication and the moderator role
	api := e.Group("/api/users")
	api.Use(mw.JWTAuth(cfg.Verifier))
	api.Use(mw.RequireRole(cfg.RequiredRole))

	api.GET("/hello", h.Hello)
	api.GET("/:id", h.GetUser)
	api.POST("", h.CreateUser)

	return e
}
