package usecase

import (
	"context"
	"time"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

// MediaRelayer copies provider media into durable storage.
type MediaRelayer interface {
	Relay(ctx context.Context, req media.Request) (media.Result, error)
}

// RelayTaskPublisher enqueues out-of-band media relay retries.
type RelayTaskPublisher interface {
	PublishRelayTask(ctx context.Context, task model.RelayTask) error
}

// PipelineService runs the messaging and form webhook pipelines.
type PipelineService struct {
	tenants       storage.TenantRepo
	contacts      storage.ContactRepo
	conversations storage.ConversationRepo
	messages      storage.MessageRepo
	leads         storage.LeadRepo
	exhausted     storage.ExhaustedRelayTaskRepo
	relayer       MediaRelayer
	publisher     RelayTaskPublisher // nil when NATS is disabled
	attribution   IAttributionWorker
	cfg           config.AttributionConfig
	now           func() time.Time
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(
	tenants storage.TenantRepo,
	contacts storage.ContactRepo,
	conversations storage.ConversationRepo,
	messages storage.MessageRepo,
	leads storage.LeadRepo,
	exhausted storage.ExhaustedRelayTaskRepo,
	relayer MediaRelayer,
	publisher RelayTaskPublisher,
	attribution IAttributionWorker,
	cfg config.AttributionConfig,
) *PipelineService {
	return &PipelineService{
		tenants:       tenants,
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		leads:         leads,
		exhausted:     exhausted,
		relayer:       relayer,
		publisher:     publisher,
		attribution:   attribution,
		cfg:           cfg,
		now:           utils.Now,
	}
}

// WithClock overrides the service's time source.
func (s *PipelineService) WithClock(now func() time.Time) *PipelineService {
	s.now = now
	return s
}
