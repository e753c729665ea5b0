package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	storagemock "gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage/mock"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

func init() {
	logger.Log = zaptest.NewLogger(nil).Named("test")
}

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

// MockAttributionWorker mocks IAttributionWorker
type MockAttributionWorker struct {
	mock.Mock
}

func (m *MockAttributionWorker) SubmitTask(task AttributionTask) error {
	args := m.Called(task)
	return args.Error(0)
}

func (m *MockAttributionWorker) Stop() {
	m.Called()
}

// MockRelayer mocks MediaRelayer
type MockRelayer struct {
	mock.Mock
}

func (m *MockRelayer) Relay(ctx context.Context, req media.Request) (media.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(media.Result), args.Error(1)
}

// MockPublisher mocks RelayTaskPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishRelayTask(ctx context.Context, task model.RelayTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

type serviceMocks struct {
	tenants       *storagemock.TenantRepoMock
	contacts      *storagemock.ContactRepoMock
	conversations *storagemock.ConversationRepoMock
	messages      *storagemock.MessageRepoMock
	leads         *storagemock.LeadRepoMock
	exhausted     *storagemock.ExhaustedRelayTaskRepoMock
	relayer       *MockRelayer
	publisher     *MockPublisher
	attribution   *MockAttributionWorker
}

func (m *serviceMocks) assertAll(t *testing.T) {
	m.tenants.AssertExpectations(t)
	m.contacts.AssertExpectations(t)
	m.conversations.AssertExpectations(t)
	m.messages.AssertExpectations(t)
	m.leads.AssertExpectations(t)
	m.exhausted.AssertExpectations(t)
	m.relayer.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
	m.attribution.AssertExpectations(t)
}

func setupPipelineService(t *testing.T, cfg config.AttributionConfig) (*PipelineService, *serviceMocks) {
	m := &serviceMocks{
		tenants:       new(storagemock.TenantRepoMock),
		contacts:      new(storagemock.ContactRepoMock),
		conversations: new(storagemock.ConversationRepoMock),
		messages:      new(storagemock.MessageRepoMock),
		leads:         new(storagemock.LeadRepoMock),
		exhausted:     new(storagemock.ExhaustedRelayTaskRepoMock),
		relayer:       new(MockRelayer),
		publisher:     new(MockPublisher),
		attribution:   new(MockAttributionWorker),
	}
	svc := NewPipelineService(m.tenants, m.contacts, m.conversations, m.messages, m.leads, m.exhausted,
		m.relayer, m.publisher, m.attribution, cfg).WithClock(func() time.Time { return fixedNow })
	return svc, m
}

func observedContext(level zapcore.Level) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return logger.WithLogger(context.Background(), zap.New(core)), logs
}

func tenantCtx(t *testing.T, companyID string) context.Context {
	return logger.WithLogger(tenant.WithCompanyID(context.Background(), companyID), zaptest.NewLogger(t))
}

func strPtr(s string) *string { return &s }
