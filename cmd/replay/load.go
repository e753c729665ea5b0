package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

type loadOptions struct {
	rate        int
	duration    time.Duration
	concurrency int
	instances   []string
	mediaRatio  float64
	dupRatio    float64
}

type loadStats struct {
	attempted atomic.Int64
	accepted  atomic.Int64
	failed    atomic.Int64
}

func newLoadCmd(root *rootOptions) *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Generate fake message webhooks at a target rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.rate <= 0 || opts.concurrency <= 0 {
				return fmt.Errorf("rate and concurrency must be positive")
			}
			if len(opts.instances) == 0 {
				return fmt.Errorf("at least one --instance is required")
			}
			p, err := newPoster(root, "message")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLoad(ctx, p, opts)
		},
	}

	cmd.Flags().IntVar(&opts.rate, "rate", 50, "Target requests per second")
	cmd.Flags().DurationVar(&opts.duration, "duration", time.Minute, "Load test duration")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 10, "Concurrent senders")
	cmd.Flags().StringSliceVar(&opts.instances, "instance", nil, "Channel instance names to spread load over")
	cmd.Flags().Float64Var(&opts.mediaRatio, "media-ratio", 0.1, "Share of image messages")
	cmd.Flags().Float64Var(&opts.dupRatio, "duplicate-ratio", 0.05, "Share of redelivered payloads")
	return cmd
}

func runLoad(ctx context.Context, p *poster, opts *loadOptions) error {
	stats := &loadStats{}
	var wg sync.WaitGroup

	pool, err := ants.NewPoolWithFunc(opts.concurrency, func(i interface{}) {
		defer wg.Done()
		payload := i.([]byte)
		status, _, err := p.post(ctx, payload)
		switch {
		case err != nil:
			stats.failed.Add(1)
			logger.Log.Debug("Request failed", zap.Error(err))
		case status >= 300:
			stats.failed.Add(1)
		default:
			stats.accepted.Add(1)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	logger.Log.Info("Starting load generation",
		zap.String("url", p.url),
		zap.Int("rate_per_sec", opts.rate),
		zap.Duration("duration", opts.duration),
		zap.Int("concurrency", opts.concurrency),
	)

	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()
	deadline := time.NewTimer(opts.duration)
	defer deadline.Stop()

	var last []byte
	start := time.Now()
loop:
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
		}

		payload := last
		if payload == nil || gofakeit.Float64() >= opts.dupRatio {
			payload, err = generateMessagePayload(opts.instances[n%len(opts.instances)], gofakeit.Float64() < opts.mediaRatio)
			if err != nil {
				return err
			}
		}
		last = payload

		stats.attempted.Add(1)
		wg.Add(1)
		if err := pool.Invoke(payload); err != nil {
			wg.Done()
			stats.failed.Add(1)
			logger.Log.Warn("Failed to invoke worker pool", zap.Error(err))
		}
	}

	wg.Wait()
	elapsed := time.Since(start)
	logger.Log.Info("Load generation finished",
		zap.Int64("attempted", stats.attempted.Load()),
		zap.Int64("accepted", stats.accepted.Load()),
		zap.Int64("failed", stats.failed.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("achieved_rate", float64(stats.attempted.Load())/elapsed.Seconds()),
	)
	return nil
}

func generateMessagePayload(instance string, withMedia bool) ([]byte, error) {
	mediaURL := ""
	if withMedia {
		mediaURL = gofakeit.URL() + "/" + gofakeit.LetterN(12) + ".jpg"
	}
	data, err := json.Marshal(model.NewMessageWebhook(instance, mediaURL))
	if err != nil {
		return nil, fmt.Errorf("marshal generated webhook: %w", err)
	}
	return data, nil
}
