package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/webhook"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

type rootOptions struct {
	target   string
	logLevel string
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "replay",
		Short:         "Replay and load-test CRM webhooks",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Initialize(opts.logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.target, "target", "http://localhost:8000", "Base URL of the ingestor")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-request timeout")

	cmd.AddCommand(newFileCmd(opts))
	cmd.AddCommand(newLoadCmd(opts))
	return cmd
}

// poster sends payloads to one webhook endpoint.
type poster struct {
	client *http.Client
	url    string
}

func newPoster(opts *rootOptions, kind string) (*poster, error) {
	path, err := endpointPath(kind)
	if err != nil {
		return nil, err
	}
	return &poster{
		client: &http.Client{Timeout: opts.timeout},
		url:    strings.TrimRight(opts.target, "/") + path,
	}, nil
}

func endpointPath(kind string) (string, error) {
	switch kind {
	case "message", "messages":
		return webhook.MessagesPath, nil
	case "form", "forms":
		return webhook.FormsPath, nil
	default:
		return "", fmt.Errorf("unknown webhook kind %q (want message or form)", kind)
	}
}

// post returns the status code and response body.
func (p *poster) post(ctx context.Context, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		logger.Log.Debug("Failed to read response body", zap.Error(err))
	}
	return resp.StatusCode, body, nil
}
