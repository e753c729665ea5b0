package relayworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	internal_js "gitlab.com/timkado/api/crm-webhook-ingestor/internal/jetstream"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/usecase"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

const (
	defaultMsgChanCap = 100
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
	taskTimeout       = 2 * time.Minute
	resubmitDelay     = 5 * time.Second
)

// delivery is the part of a JetStream message the worker acts on.
type delivery interface {
	Data() []byte
	Subject() string
	NumDelivered() (uint64, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

type natsDelivery struct {
	msg *nats.Msg
}

func (d natsDelivery) Data() []byte { return d.msg.Data }

func (d natsDelivery) Subject() string { return d.msg.Subject }

func (d natsDelivery) Ack() error { return d.msg.Ack() }

func (d natsDelivery) Term() error { return d.msg.Term() }

func (d natsDelivery) NakWithDelay(delay time.Duration) error { return d.msg.NakWithDelay(delay) }

func (d natsDelivery) NumDelivered() (uint64, error) {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 0, err
	}
	return meta.NumDelivered, nil
}

// Worker consumes media relay tasks from JetStream and retries them with
// exponential NAK delays until they succeed or run out of attempts.
type Worker struct {
	cfg     config.NATSConfig
	logger  *zap.Logger
	js      internal_js.ClientInterface
	pool    *ants.Pool
	handler usecase.RelayTaskHandler
	msgCh   chan delivery
	stopWg  sync.WaitGroup
	cancel  context.CancelFunc
}

// NewWorker creates the relay worker and ensures its stream and consumer exist.
func NewWorker(cfg config.NATSConfig, logger *zap.Logger, jsClient internal_js.ClientInterface, handler usecase.RelayTaskHandler) (*Worker, error) {
	pool, err := ants.NewPool(cfg.RelayWorkers,
		ants.WithLogger(newAntsLoggerAdapter(logger.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			logger.Error("Relay worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	if err := internal_js.SetupRelayTopology(context.Background(), jsClient, cfg); err != nil {
		pool.Release()
		return nil, err
	}
	logger.Info("Relay stream and consumer ready",
		zap.String("stream", cfg.RelayStream),
		zap.String("consumer", internal_js.RelayDurableName(cfg.RelaySubject)),
	)

	w := &Worker{
		cfg:     cfg,
		logger:  logger.Named("relay_worker"),
		js:      jsClient,
		pool:    pool,
		handler: handler,
		msgCh:   make(chan delivery, defaultMsgChanCap),
	}
	w.logger.Info("Relay worker initialized", zap.Int("pool_size", cfg.RelayWorkers))
	return w, nil
}

// Start runs the fetcher and dispatcher loops and blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	durableName := internal_js.RelayDurableName(w.cfg.RelaySubject)
	filter := internal_js.RelayFilterSubject(w.cfg.RelaySubject)
	w.logger.Info("Attempting relay pull subscription",
		zap.String("stream", w.cfg.RelayStream),
		zap.String("subject", filter),
		zap.String("durable_name", durableName),
	)

	sub, err := w.js.SubscribePull(w.cfg.RelayStream, filter, durableName)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create relay pull subscription: %w", err)
	}

	w.stopWg.Add(1)
	go w.fetchMessages(derivedCtx, sub)

	w.stopWg.Add(1)
	go w.dispatchMessages(derivedCtx)

	w.logger.Info("Relay worker started")
	<-derivedCtx.Done()
	w.logger.Info("Relay worker context cancelled, initiating shutdown...")
	return nil
}

// Stop shuts the loops down and waits for running relays to finish.
func (w *Worker) Stop() {
	w.logger.Info("Stopping relay worker...")
	if w.cancel != nil {
		w.cancel()
	}
	w.stopWg.Wait()
	close(w.msgCh)
	w.pool.Release()
	w.logger.Info("Relay worker stopped")
}

func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		observer.IncRelayFetchRequest()
		msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrConnectionClosed) {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			observer.IncRelayFetchError()
			w.logger.Error("Fetcher loop error retrieving relay tasks", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			select {
			case w.msgCh <- natsDelivery{msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()

	for {
		observer.SetRelayQueueLength(len(w.msgCh))
		observer.SetRelayWorkersActive(w.pool.Running())

		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.msgCh:
			if !ok {
				return
			}
			current := msg
			err := w.pool.Submit(func() {
				taskCtx, cancel := context.WithTimeout(context.Background(), taskTimeout)
				defer cancel()
				w.handleDelivery(taskCtx, current)
			})
			if err != nil {
				w.logger.Error("Failed to submit relay task to ants pool", zap.Error(err))
				if nakErr := current.NakWithDelay(resubmitDelay); nakErr != nil {
					w.logger.Error("Failed to NAK relay task after pool submission error", zap.Error(nakErr))
				}
			}
		}
	}
}

// handleDelivery runs one relay attempt and settles the message.
func (w *Worker) handleDelivery(ctx context.Context, msg delivery) {
	attempt, err := msg.NumDelivered()
	if err != nil {
		w.logger.Error("Failed to get relay task metadata", zap.Error(err))
		w.term(msg, "")
		return
	}

	var task model.RelayTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil || task.MessageID == "" || task.CompanyID == "" {
		w.logger.Error("Dropping undecodable relay task",
			zap.Error(err),
			zap.String("subject", msg.Subject()),
			zap.ByteString("data", msg.Data()),
		)
		w.term(msg, "")
		return
	}

	log := w.logger.With(
		zap.String("company_id", task.CompanyID),
		zap.String("message_id", task.MessageID),
		zap.String("task_id", task.TaskID),
		zap.Uint64("attempt", attempt),
	)
	ctx = logger.WithLogger(tenant.WithCompanyID(ctx, task.CompanyID), log)

	relayErr := w.handler.RetryRelay(ctx, task)
	if relayErr == nil {
		log.Info("Relay task completed")
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK relay task", zap.Error(ackErr))
			return
		}
		observer.IncRelayTaskOutcome(task.CompanyID, "ack")
		return
	}

	if apperrors.IsFatal(relayErr) || int(attempt) >= w.cfg.RelayMaxAttempts {
		log.Warn("Relay task will not be retried", zap.Error(relayErr), zap.Bool("fatal", apperrors.IsFatal(relayErr)))
		if err := w.handler.ExhaustRelay(ctx, task, msg.Subject(), int(attempt), relayErr); err != nil {
			log.Error("Failed to persist exhausted relay task, terminating anyway", zap.Error(err))
		}
		if termErr := msg.Term(); termErr != nil {
			log.Error("Failed to terminate exhausted relay task", zap.Error(termErr))
		}
		observer.IncRelayTaskOutcome(task.CompanyID, "exhausted")
		return
	}

	delay := calculateBackoffDelay(int(attempt), w.cfg.RelayBaseDelay, w.cfg.RelayMaxDelay)
	log.Info("Retrying relay task with backoff", zap.Duration("delay", delay), zap.Error(relayErr))
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		log.Error("Failed to NAK relay task with delay", zap.Error(nakErr))
		return
	}
	observer.IncRelayTaskOutcome(task.CompanyID, "retry")
}

func (w *Worker) term(msg delivery, companyID string) {
	if err := msg.Term(); err != nil {
		w.logger.Error("Failed to terminate relay task", zap.Error(err))
		return
	}
	observer.IncRelayTaskOutcome(companyID, "term")
}

// RetryHorizon bounds how long a published relay task can stay alive: every
// NAK delay of the attempt budget plus one ack wait per delivery.
func RetryHorizon(cfg config.NATSConfig) time.Duration {
	attempts := cfg.RelayMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	horizon := time.Duration(attempts) * cfg.RelayAckWait
	for attempt := 1; attempt < attempts; attempt++ {
		horizon += calculateBackoffDelay(attempt, cfg.RelayBaseDelay, cfg.RelayMaxDelay)
	}
	return horizon
}

// calculateBackoffDelay doubles baseDelay per previous delivery, capped at maxDelay.
func calculateBackoffDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 1 {
		return baseDelay
	}
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

// --- Ants Logger Adapter ---

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
