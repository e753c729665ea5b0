package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// HTTPFetcher downloads media over HTTP and throttles outbound requests with a
// shared limiter. The channel instance token goes out in authHeader only to
// hosts on the allow list, redirects included.
type HTTPFetcher struct {
	client       *http.Client
	limiter      *rate.Limiter
	authHeader   string
	allowedHosts []string
	maxBytes     int64
}

// FetcherOptions configures an HTTPFetcher.
type FetcherOptions struct {
	Timeout      time.Duration
	MaxBytes     int64
	Rate         float64 // requests per second, 0 disables throttling
	Burst        int
	AuthHeader   string
	AllowedHosts []string // hosts trusted with the token; "example.com" also covers its subdomains
}

// NewHTTPFetcher builds a fetcher from opts.
func NewHTTPFetcher(opts FetcherOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	f := &HTTPFetcher{
		limiter:      rate.NewLimiter(limit, opts.Burst),
		authHeader:   opts.AuthHeader,
		allowedHosts: normalizeHosts(opts.AllowedHosts),
		maxBytes:     opts.MaxBytes,
	}
	f.client = &http.Client{Timeout: opts.Timeout, CheckRedirect: f.checkRedirect}
	return f
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "*.")
		h = strings.TrimSuffix(h, ".")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// trusts reports whether u points at an allowed host.
func (f *HTTPFetcher) trusts(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	for _, allowed := range f.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// checkRedirect strips the token when a redirect leaves the allow list.
func (f *HTTPFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if f.authHeader != "" && !f.trusts(req.URL) {
		req.Header.Del(f.authHeader)
	}
	return nil
}

// Fetch downloads url. Missing or forbidden media is fatal; network failures,
// throttling and 5xx responses are retryable.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, token string) (*Download, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrRateLimited, err), "wait for media fetch slot")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.NewFatal(fmt.Errorf("%w: %w", apperrors.ErrMediaUnavailable, err), "build media request")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, apperrors.NewFatal(fmt.Errorf("%w: unsupported scheme %q", apperrors.ErrMediaUnavailable, req.URL.Scheme), "build media request")
	}
	if token != "" && f.authHeader != "" {
		if f.trusts(req.URL) {
			req.Header.Set(f.authHeader, token)
		} else {
			logger.FromContext(ctx).Warn("Media host not trusted with instance token, fetching without it",
				zap.String("host", req.URL.Hostname()))
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrMediaUnavailable, err), "download media")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("%w: status %d", apperrors.ErrMediaUnavailable, resp.StatusCode)
		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusGone, http.StatusForbidden, http.StatusUnauthorized:
			return nil, apperrors.NewFatal(statusErr, "download media")
		default:
			return nil, apperrors.NewRetryable(statusErr, "download media")
		}
	}

	data, err := ReadAllWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		if errors.Is(err, ErrAssetTooLarge) {
			return nil, apperrors.NewFatal(fmt.Errorf("%w: %w", apperrors.ErrMediaUnavailable, err), "read media body")
		}
		return nil, apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrMediaUnavailable, err), "read media body")
	}
	return &Download{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}
