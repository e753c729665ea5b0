package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/usecase"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

const (
	endpointMessages = "messages"
	endpointForms    = "forms"
)

// Pipeline is the ingestion surface the handlers call into.
type Pipeline interface {
	HandleMessageWebhook(ctx context.Context, body []byte) (model.WebhookResult, error)
	HandleFormWebhook(ctx context.Context, body []byte) (model.FormResult, int, error)
}

var _ Pipeline = (*usecase.PipelineService)(nil)

// Handler maps webhook requests onto the pipeline.
type Handler struct {
	pipeline Pipeline
}

func NewHandler(pipeline Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// Register mounts the webhook routes behind the given middleware. Other
// methods on these paths get 405.
func (h *Handler) Register(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST(MessagesPath, h.HandleMessages, append([]echo.MiddlewareFunc{answerOK(endpointMessages)}, mw...)...)
	e.POST(FormsPath, h.HandleForms, mw...)
}

// answerOK wraps a route so that whatever happens below it, including
// middleware rejections and panics, the caller gets a 200 with the outcome
// in a WebhookResult.
func answerOK(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				logger.FromContext(c.Request().Context()).Error("Recovered panic in webhook handler",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				err = rejectOK(c, endpoint, "panic", "internal error")
			}()

			if err := next(c); err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					return rejectOK(c, endpoint, "http_"+strconv.Itoa(he.Code), strings.ToLower(fmt.Sprint(he.Message)))
				}
				logger.FromContext(c.Request().Context()).Warn("Webhook handler failed", zap.Error(err))
				return rejectOK(c, endpoint, "handler_error", "internal error")
			}
			return nil
		}
	}
}

func rejectOK(c echo.Context, endpoint, outcome, message string) error {
	observer.IncWebhookHandled(endpoint, outcome)
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusOK, model.WebhookResult{Success: false, Error: message})
}

// HandleMessages always answers 200 so the provider does not redeliver; the
// outcome is in the body.
func (h *Handler) HandleMessages(c echo.Context) error {
	start := time.Now()
	observer.IncWebhookReceived(endpointMessages)
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to read message webhook body", zap.Error(err))
		observer.IncWebhookHandled(endpointMessages, "read_error")
		return c.JSON(http.StatusOK, model.WebhookResult{Success: false, Error: "failed to read body"})
	}

	res, err := h.pipeline.HandleMessageWebhook(ctx, body)
	observer.IncWebhookHandled(endpointMessages, apperrors.Category(err))
	observer.ObserveWebhookDuration(endpointMessages, time.Since(start))
	return c.JSON(http.StatusOK, res)
}

// HandleForms answers with the status the pipeline picked.
func (h *Handler) HandleForms(c echo.Context) error {
	start := time.Now()
	observer.IncWebhookReceived(endpointForms)
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to read form webhook body", zap.Error(err))
		observer.IncWebhookHandled(endpointForms, "read_error")
		return c.JSON(http.StatusBadRequest, model.FormResult{Success: false, Error: "failed to read body"})
	}

	res, status, err := h.pipeline.HandleFormWebhook(ctx, body)
	observer.IncWebhookHandled(endpointForms, apperrors.Category(err))
	observer.ObserveWebhookDuration(endpointForms, time.Since(start))
	return c.JSON(status, res)
}
