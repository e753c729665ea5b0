package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
)

// --- TenantRepo Mock ---

// TenantRepoMock mocks the TenantRepo interface
type TenantRepoMock struct {
	mock.Mock
}

func (m *TenantRepoMock) FindCompanyByAPIKey(ctx context.Context, apiKey string) (*model.Company, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Company), args.Error(1)
}

func (m *TenantRepoMock) FindInstanceByName(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	args := m.Called(ctx, instanceName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChannelInstance), args.Error(1)
}

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// Upsert mocks the Upsert method
func (m *ContactRepoMock) Upsert(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	args := m.Called(ctx, contact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

// Upsert mocks the Upsert method
func (m *ConversationRepoMock) Upsert(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	args := m.Called(ctx, conv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

func (m *MessageRepoMock) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	args := m.Called(ctx, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MessageRepoMock) FindByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// InsertIfAbsent mocks the InsertIfAbsent method
func (m *MessageRepoMock) InsertIfAbsent(ctx context.Context, msg *model.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepoMock) UpdateMedia(ctx context.Context, messageID, mediaURL, mimeType string, status model.MediaStatus) error {
	args := m.Called(ctx, messageID, mediaURL, mimeType, status)
	return args.Error(0)
}

func (m *MessageRepoMock) FindPendingMedia(ctx context.Context, olderThan time.Time, limit int) ([]model.Message, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MessageRepoMock) ClaimPendingMedia(ctx context.Context, messageID string, olderThan time.Time) (bool, error) {
	args := m.Called(ctx, messageID, olderThan)
	return args.Bool(0), args.Error(1)
}

// --- LeadRepo Mock ---

// LeadRepoMock mocks the LeadRepo interface
type LeadRepoMock struct {
	mock.Mock
}

func (m *LeadRepoMock) Create(ctx context.Context, lead *model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *LeadRepoMock) FindOrCreateByPhone(ctx context.Context, lead *model.Lead) (*model.Lead, bool, error) {
	args := m.Called(ctx, lead)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Lead), args.Bool(1), args.Error(2)
}

func (m *LeadRepoMock) FindByID(ctx context.Context, id string) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) UpdateAttribution(ctx context.Context, leadID, visitorID string, score, sessionSeconds int) (bool, error) {
	args := m.Called(ctx, leadID, visitorID, score, sessionSeconds)
	return args.Bool(0), args.Error(1)
}

// --- VisitorRepo Mock ---

// VisitorRepoMock mocks the VisitorRepo interface
type VisitorRepoMock struct {
	mock.Mock
}

func (m *VisitorRepoMock) FindLatest(ctx context.Context, visitorID string) (*model.Visitor, error) {
	args := m.Called(ctx, visitorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Visitor), args.Error(1)
}

func (m *VisitorRepoMock) FindRecent(ctx context.Context, since time.Time, limit int) ([]model.Visitor, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Visitor), args.Error(1)
}

func (m *VisitorRepoMock) SaveConversion(ctx context.Context, conv model.Conversion) (bool, error) {
	args := m.Called(ctx, conv)
	return args.Bool(0), args.Error(1)
}

// --- CustomFieldRepo Mock ---

// CustomFieldRepoMock mocks the CustomFieldRepo interface
type CustomFieldRepoMock struct {
	mock.Mock
}

func (m *CustomFieldRepoMock) FindByNumericID(ctx context.Context, numericID int64) (*model.CustomFieldDefinition, error) {
	args := m.Called(ctx, numericID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CustomFieldDefinition), args.Error(1)
}

func (m *CustomFieldRepoMock) FindOrCreateByName(ctx context.Context, def model.CustomFieldDefinition) (*model.CustomFieldDefinition, bool, error) {
	args := m.Called(ctx, def)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.CustomFieldDefinition), args.Bool(1), args.Error(2)
}

func (m *CustomFieldRepoMock) UpsertValue(ctx context.Context, value model.CustomFieldValue) error {
	args := m.Called(ctx, value)
	return args.Error(0)
}

// --- ExhaustedRelayTaskRepo Mock ---

// ExhaustedRelayTaskRepoMock mocks the ExhaustedRelayTaskRepo interface
type ExhaustedRelayTaskRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ExhaustedRelayTaskRepoMock) Save(ctx context.Context, task model.ExhaustedRelayTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}
