package integration_test

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/suite"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/jetstream"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/sweeper"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// RelayQueueSuite checks the relay stream topology, publisher and sweeper against a real JetStream server.
type RelayQueueSuite struct {
	BaseIntegrationSuite
	client    *jetstream.Client
	cfg       config.NATSConfig
	publisher *jetstream.RelayPublisher
}

func TestRelayQueueSuite(t *testing.T) {
	suite.Run(t, new(RelayQueueSuite))
}

func (s *RelayQueueSuite) SetupSuite() {
	s.BaseIntegrationSuite.SetupSuite()

	var err error
	s.client, err = jetstream.NewClient(s.NATSURL, "crm-webhook-ingestor-it")
	s.Require().NoError(err)

	s.cfg = config.NATSConfig{
		Enabled:          true,
		URL:              s.NATSURL,
		RelayStream:      "it_media_relay",
		RelaySubject:     "it.media.relay",
		RelayWorkers:     1,
		RelayBaseDelay:   time.Second,
		RelayMaxDelay:    5 * time.Second,
		RelayMaxAttempts: 3,
		RelayMaxAgeDays:  1,
		RelayAckWait:     30 * time.Second,
		RelayMaxAckPend:  16,
	}
	s.Require().NoError(jetstream.SetupRelayTopology(s.Ctx, s.client, s.cfg))
	s.publisher = jetstream.NewRelayPublisher(s.client, s.cfg.RelaySubject)
}

func (s *RelayQueueSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	s.BaseIntegrationSuite.TearDownSuite()
}

func (s *RelayQueueSuite) SetupTest() {
	s.BaseIntegrationSuite.SetupTest()
	js, err := s.client.NatsConn().JetStream()
	s.Require().NoError(err)
	s.Require().NoError(js.PurgeStream(s.cfg.RelayStream))
}

func (s *RelayQueueSuite) streamMsgs() uint64 {
	js, err := s.client.NatsConn().JetStream()
	s.Require().NoError(err)
	info, err := js.StreamInfo(s.cfg.RelayStream)
	s.Require().NoError(err)
	return info.State.Msgs
}

func (s *RelayQueueSuite) TestTopologyIsIdempotent() {
	s.Require().NoError(jetstream.SetupRelayTopology(s.Ctx, s.client, s.cfg))

	js, err := s.client.NatsConn().JetStream()
	s.Require().NoError(err)
	info, err := js.ConsumerInfo(s.cfg.RelayStream, jetstream.RelayDurableName(s.cfg.RelaySubject))
	s.Require().NoError(err)
	s.Equal(s.cfg.RelayMaxAttempts+1, info.Config.MaxDeliver)
	s.Equal(nats.AckExplicitPolicy, info.Config.AckPolicy)
}

func (s *RelayQueueSuite) TestPublishDeduplicatesByTaskID() {
	task := *model.NewRelayTask(&model.RelayTask{CompanyID: "company-1"})
	task.TaskID = "task-dup-1"

	s.Require().NoError(s.publisher.PublishRelayTask(s.Ctx, task))
	s.Require().NoError(s.publisher.PublishRelayTask(s.Ctx, task))
	s.Equal(uint64(1), s.streamMsgs())

	sub, err := s.client.SubscribePull(s.cfg.RelayStream, jetstream.RelayFilterSubject(s.cfg.RelaySubject), jetstream.RelayDurableName(s.cfg.RelaySubject))
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	msgs, err := sub.Fetch(1, nats.MaxWait(5*time.Second))
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(jetstream.RelaySubject(s.cfg.RelaySubject, "company-1"), msgs[0].Subject)
	s.Require().NoError(msgs[0].Ack())
}

func (s *RelayQueueSuite) TestSweeperEnqueuesPendingMedia() {
	company, inst := s.SeedTenant()
	ctx := tenant.WithCompanyID(s.Ctx, company.ID)

	conv, err := s.Repo.UpsertConversation(ctx, model.Conversation{
		PhoneNumber: model.FakePhone(),
		Status:      model.ConversationStatusOpen,
	})
	s.Require().NoError(err)

	messages := storage.NewMessageRepoAdapter(s.Repo)
	for i := 0; i < 3; i++ {
		msg := model.NewMessage(&model.Message{
			ConversationID: conv.ID,
			Type:           model.MessageTypeImage,
			MediaURL:       "https://media.example.com/pending.jpg",
			MediaStatus:    model.MediaStatusPending,
		})
		msg.CompanyID = ""
		msg.InstanceName = inst.InstanceName
		inserted, err := messages.InsertIfAbsent(ctx, msg)
		s.Require().NoError(err)
		s.Require().True(inserted)
	}

	s.Require().NoError(s.ExecuteNonQuery(
		"UPDATE messages SET updated_at = NOW() - INTERVAL '1 hour' WHERE conversation_id = $1", conv.ID))

	sw := sweeper.New(config.SweeperConfig{Schedule: "@every 1h", MinAge: 10 * time.Minute, BatchSize: 10, Concurrency: 2}, messages, s.publisher, logger.Log)
	n, err := sw.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal(uint64(3), s.streamMsgs())

	// Claimed rows carry a fresh updated_at, so a second sweep finds nothing.
	n, err = sw.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(uint64(3), s.streamMsgs())
}
