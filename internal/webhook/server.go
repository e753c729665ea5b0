package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

const (
	MessagesPath = "/webhooks/messages"
	FormsPath    = "/webhooks/forms"
)

// Server is the public webhook endpoint.
type Server struct {
	echo    *echo.Echo
	cfg     config.HTTPConfig
	log     *zap.Logger
	guarded []echo.MiddlewareFunc
}

// NewServer builds the echo instance with its middleware chain and routes.
func NewServer(cfg config.HTTPConfig, pipeline Pipeline, log *zap.Logger) *Server {
	log = log.Named("webhook_server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(contextLogger(log))

	// Limits are attached per route: the messages route turns their
	// rejections into a 200 body, the others keep the status codes.
	var guarded []echo.MiddlewareFunc
	if cfg.BodyLimit != "" {
		guarded = append(guarded, middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RatePerSecond > 0 {
		guarded = append(guarded, middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RatePerSecond),
				Burst:     cfg.RateBurst,
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}

	NewHandler(pipeline).Register(e, guarded...)

	return &Server{echo: e, cfg: cfg, log: log, guarded: guarded}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("Starting webhook server", zap.String("address", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// contextLogger places the request id and a request-scoped logger on the
// request context so the pipeline logs carry them.
func contextLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			ctx := tenant.WithRequestID(req.Context(), requestID)
			ctx = logger.WithLogger(ctx, base.With(
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
			))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
