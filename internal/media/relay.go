package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

const (
	defaultExtension = ".bin"
	defaultMimeType  = "application/octet-stream"
)

// Relayer copies provider-hosted media into durable storage.
type Relayer struct {
	fetcher  Fetcher
	provider StorageProvider
}

// NewRelayer creates a Relayer.
func NewRelayer(fetcher Fetcher, provider StorageProvider) *Relayer {
	return &Relayer{fetcher: fetcher, provider: provider}
}

// Relay downloads req.SourceURL and stores it under a tenant/conversation/message key.
// On any failure the returned Result still points at the original URL so the caller
// can persist it, and the error says whether a retry is worthwhile.
func (r *Relayer) Relay(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	fallback := Result{URL: req.SourceURL, MimeType: req.MimeHint}
	log := logger.FromContext(ctx).With(
		zap.String("message_id", req.MessageID),
		zap.String("relay_origin", req.Origin),
	)

	result, err := r.relay(ctx, req)
	observer.ObserveMediaRelayDuration(req.Origin, time.Since(start))
	if err != nil {
		observer.IncMediaRelay(req.Origin, req.CompanyID, outcome(err))
		log.Warn("Media relay failed, keeping provider URL", zap.String("source_url", req.SourceURL), zap.Error(err))
		return fallback, err
	}

	observer.IncMediaRelay(req.Origin, req.CompanyID, "relayed")
	observer.AddMediaRelayBytes(req.CompanyID, result.Size)
	log.Debug("Media relayed", zap.String("key", result.Key), zap.String("size", utils.ByteCountSI(result.Size)))
	return result, nil
}

func (r *Relayer) relay(ctx context.Context, req Request) (Result, error) {
	if r.provider == nil {
		return Result{}, apperrors.NewFatal(ErrProviderUnavailable, "relay media")
	}
	if req.SourceURL == "" {
		return Result{}, apperrors.NewFatal(apperrors.ErrMediaUnavailable, "relay media: empty source url")
	}
	if req.CompanyID == "" || req.ConversationID == "" || req.MessageID == "" {
		return Result{}, apperrors.NewFatal(apperrors.ErrBadRequest, "relay media: incomplete storage scope")
	}

	download, err := r.fetcher.Fetch(ctx, req.SourceURL, req.Token)
	if err != nil {
		return Result{}, err
	}

	ext := Extension(req.MimeHint, req.SourceURL)
	contentType := ContentType(req.MimeHint, ext, download.ContentType, download.Data)
	key := ObjectKey(req.CompanyID, req.ConversationID, req.MessageID, ext)

	if err := r.provider.Put(ctx, key, bytes.NewReader(download.Data)); err != nil {
		return Result{}, apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrStorage, err), "store media")
	}

	return Result{
		URL:      r.provider.AccessPath(key),
		Key:      key,
		MimeType: contentType,
		Size:     int64(len(download.Data)),
		Relayed:  true,
	}, nil
}

// ObjectKey builds the storage key for a message's media.
func ObjectKey(companyID, conversationID, messageID, ext string) string {
	return path.Join(companyID, conversationID, messageID+ext)
}

// Extension picks a file extension from the MIME hint, else from the URL path,
// else falls back to a generic binary extension.
func Extension(mimeHint, sourceURL string) string {
	if base := baseMime(mimeHint); base != "" {
		if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
			return m.Extension()
		}
		if exts, _ := mime.ExtensionsByType(base); len(exts) > 0 {
			return exts[0]
		}
	}
	if u, err := url.Parse(sourceURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if len(ext) > 1 && len(ext) <= 6 && isAlnum(ext[1:]) {
			return ext
		}
	}
	return defaultExtension
}

// ContentType returns the type stored alongside the object: the hint when present,
// else the type registered for ext, else a specific type the source served,
// else whatever the bytes sniff as.
func ContentType(mimeHint, ext, served string, data []byte) string {
	if base := baseMime(mimeHint); base != "" {
		return base
	}
	if ext != "" && ext != defaultExtension {
		if t := mime.TypeByExtension(ext); t != "" {
			return baseMime(t)
		}
	}
	if base := baseMime(served); base != "" && base != defaultMimeType {
		return base
	}
	if len(data) > 0 {
		return baseMime(mimetype.Detect(data).String())
	}
	return defaultMimeType
}

func baseMime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(raw); err == nil {
		return parsed
	}
	return strings.ToLower(raw)
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrStorage), errors.Is(err, ErrProviderUnavailable):
		return "storage_error"
	case errors.Is(err, apperrors.ErrMediaUnavailable):
		return "fetch_error"
	default:
		return "error"
	}
}
