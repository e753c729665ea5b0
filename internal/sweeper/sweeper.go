// Package sweeper re-enqueues media relays that never completed: messages whose
// media is still pending or pointing at the provider after a grace period.
package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/usecase"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

const runTimeout = 2 * time.Minute

// Sweeper periodically publishes relay tasks for stale media. A message is
// only swept once nothing has touched it for the longer of MinAge and the
// retry horizon, and each publish is preceded by a claim that bumps
// updated_at, so a task already in flight is never doubled.
type Sweeper struct {
	cfg          config.SweeperConfig
	retryHorizon time.Duration
	messages     storage.MessageRepo
	publisher    usecase.RelayTaskPublisher
	logger       *zap.Logger
	cron         *cron.Cron
	running      atomic.Bool
	now          func() time.Time
}

// New creates a sweeper. Call Start to schedule it.
func New(cfg config.SweeperConfig, messages storage.MessageRepo, publisher usecase.RelayTaskPublisher, log *zap.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{
		cfg:       cfg,
		messages:  messages,
		publisher: publisher,
		logger:    log.Named("media_sweeper"),
		now:       utils.Now,
	}
}

// WithRetryHorizon sets how long a published relay task may still be retried.
func (s *Sweeper) WithRetryHorizon(d time.Duration) *Sweeper {
	s.retryHorizon = d
	return s
}

func (s *Sweeper) quietPeriod() time.Duration {
	if s.retryHorizon > s.cfg.MinAge {
		return s.retryHorizon
	}
	return s.cfg.MinAge
}

// Start schedules the sweep on the configured cron spec.
func (s *Sweeper) Start() error {
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Media sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Media sweeper scheduled",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("min_age", s.cfg.MinAge),
		zap.Duration("quiet_period", s.quietPeriod()),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Media sweeper stopped")
}

// RunOnce performs a single sweep and returns how many tasks it enqueued.
// Overlapping runs are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		observer.IncSweeperRun("skipped")
		return 0, nil
	}
	defer s.running.Store(false)

	ctx = logger.WithLogger(ctx, s.logger)
	cutoff := s.now().Add(-s.quietPeriod())

	stale, err := s.messages.FindPendingMedia(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		observer.IncSweeperRun("error")
		return 0, fmt.Errorf("find pending media: %w", err)
	}
	if len(stale) == 0 {
		observer.IncSweeperRun("empty")
		return 0, nil
	}

	var enqueued atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range stale {
		msg := stale[i]
		g.Go(func() error {
			claimed, err := s.messages.ClaimPendingMedia(gCtx, msg.ID, cutoff)
			if err != nil {
				s.logger.Warn("Failed to claim stale media", zap.String("message_id", msg.ID), zap.Error(err))
				return nil
			}
			if !claimed {
				return nil
			}
			if err := s.publisher.PublishRelayTask(gCtx, relayTaskFor(msg)); err != nil {
				s.logger.Warn("Failed to enqueue stale media",
					zap.String("company_id", msg.CompanyID),
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				return nil
			}
			enqueued.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(enqueued.Load())
	observer.AddSweeperEnqueued(n)
	status := "success"
	if n < len(stale) {
		status = "partial"
	}
	observer.IncSweeperRun(status)
	s.logger.Info("Media sweep finished", zap.Int("found", len(stale)), zap.Int("enqueued", n))
	return n, nil
}

func relayTaskFor(msg model.Message) model.RelayTask {
	return model.RelayTask{
		TaskID:            fmt.Sprintf("sweep-%s-%d", msg.ID, msg.UpdatedAt.Unix()),
		CompanyID:         msg.CompanyID,
		MessageID:         msg.ID,
		ConversationID:    msg.ConversationID,
		ProviderMessageID: msg.ProviderMessageID,
		InstanceName:      msg.InstanceName,
		SourceURL:         msg.MediaURL,
		MediaType:         msg.Type,
		MimeType:          msg.MediaMimeType,
		Origin:            model.RelayOriginSweeper,
	}
}
