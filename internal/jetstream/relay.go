package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/validator"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

// --- Relay queue topology ---

// RelaySubject is the subject a tenant's relay tasks are published on.
func RelaySubject(base, companyID string) string {
	return fmt.Sprintf("%s.%s", base, companyID)
}

// RelayFilterSubject matches every tenant's relay tasks.
func RelayFilterSubject(base string) string {
	return base + ".>"
}

// RelayDurableName derives a valid durable consumer name from the base subject.
func RelayDurableName(base string) string {
	return fmt.Sprintf("%s_worker_consumer", strings.ReplaceAll(base, ".", "_"))
}

// RelayStreamConfig builds the relay stream definition.
func RelayStreamConfig(cfg config.NATSConfig) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:       cfg.RelayStream,
		Subjects:   []string{RelayFilterSubject(cfg.RelaySubject)},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     time.Duration(cfg.RelayMaxAgeDays) * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	}
}

// RelayConsumerConfig builds the durable pull consumer the relay worker binds to.
// MaxDeliver is one above the attempt budget so the last delivery can be persisted
// as exhausted instead of silently dropped by the server.
func RelayConsumerConfig(cfg config.NATSConfig) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:       RelayDurableName(cfg.RelaySubject),
		FilterSubject: RelayFilterSubject(cfg.RelaySubject),
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    cfg.RelayMaxAttempts + 1,
		AckWait:       cfg.RelayAckWait,
		MaxAckPending: cfg.RelayMaxAckPend,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
}

// SetupRelayTopology ensures the relay stream and its consumer exist.
func SetupRelayTopology(ctx context.Context, client ClientInterface, cfg config.NATSConfig) error {
	if err := client.SetupStream(ctx, RelayStreamConfig(cfg)); err != nil {
		return fmt.Errorf("failed to setup relay stream '%s': %w", cfg.RelayStream, err)
	}
	consumerCfg := RelayConsumerConfig(cfg)
	if err := client.SetupConsumer(ctx, cfg.RelayStream, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup relay consumer '%s': %w", consumerCfg.Durable, err)
	}
	return nil
}

// --- Publisher ---

// RelayPublisher enqueues media relay tasks for out-of-band processing.
type RelayPublisher struct {
	client      ClientInterface
	baseSubject string
}

// NewRelayPublisher creates a publisher for tasks under baseSubject.
func NewRelayPublisher(client ClientInterface, baseSubject string) *RelayPublisher {
	return &RelayPublisher{client: client, baseSubject: baseSubject}
}

// PublishRelayTask validates and publishes task. The task id doubles as the
// JetStream message id, so a re-published task inside the duplicate window is dropped.
func (p *RelayPublisher) PublishRelayTask(ctx context.Context, task model.RelayTask) error {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = utils.Now()
	}
	if err := validator.Validate(task); err != nil {
		return fmt.Errorf("%w: relay task: %w", apperrors.ErrValidation, err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("%w: marshal relay task: %w", apperrors.ErrBadRequest, err)
	}

	subject := RelaySubject(p.baseSubject, task.CompanyID)
	headers := map[string]string{
		nats.MsgIdHdr: task.TaskID,
		"Company-ID":  task.CompanyID,
	}
	duplicate, err := p.client.Publish(ctx, subject, data, headers)
	if err != nil {
		observer.IncRelayTaskOutcome(task.CompanyID, "publish_error")
		logger.FromContext(ctx).Error("Failed to publish relay task",
			zap.String("subject", subject),
			zap.String("message_id", task.MessageID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}

	outcome := "published"
	if duplicate {
		outcome = "duplicate"
	}
	observer.IncRelayTaskOutcome(task.CompanyID, outcome)
	logger.FromContext(ctx).Debug("Relay task enqueued",
		zap.String("subject", subject),
		zap.String("task_id", task.TaskID),
		zap.String("message_id", task.MessageID),
		zap.Bool("duplicate", duplicate),
	)
	return nil
}
