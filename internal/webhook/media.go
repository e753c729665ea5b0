package webhook

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// MediaStore reads relayed objects back by storage key.
type MediaStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ServeMedia exposes stored media under prefix, matching the public base URL
// the relayer writes into messages.
func (s *Server) ServeMedia(prefix string, store MediaStore) {
	prefix = "/" + strings.Trim(prefix, "/")
	s.echo.GET(prefix+"/*", serveMedia(store), s.guarded...)
	s.log.Info("Serving relayed media", zap.String("prefix", prefix))
}

func serveMedia(store MediaStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Param("*")
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
		if key == "" {
			return echo.ErrNotFound
		}

		ctx := c.Request().Context()
		rc, err := store.Open(ctx, key)
		switch {
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, media.ErrPathTraversal):
			return echo.ErrNotFound
		case err != nil:
			logger.FromContext(ctx).Warn("Failed to open stored media", zap.String("key", key), zap.Error(err))
			return echo.ErrInternalServerError
		}
		defer rc.Close()

		contentType := mime.TypeByExtension(path.Ext(key))
		if contentType == "" {
			contentType = echo.MIMEOctetStream
		}
		c.Response().Header().Set("Cache-Control", "public, max-age=86400")
		return c.Stream(http.StatusOK, contentType, rc)
	}
}
