package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
)

// TenantRepo resolves tenants from inbound credentials
type TenantRepo interface {
	FindCompanyByAPIKey(ctx context.Context, apiKey string) (*model.Company, error)
	FindInstanceByName(ctx context.Context, instanceName string) (*model.ChannelInstance, error)
}

// ContactRepo defines contact storage operations
type ContactRepo interface {
	Upsert(ctx context.Context, contact model.Contact) (*model.Contact, error)
}

// ConversationRepo defines conversation storage operations
type ConversationRepo interface {
	Upsert(ctx context.Context, conv model.Conversation) (*model.Conversation, error)
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	InsertIfAbsent(ctx context.Context, msg *model.Message) (bool, error)
	UpdateMedia(ctx context.Context, messageID, mediaURL, mimeType string, status model.MediaStatus) error
	FindPendingMedia(ctx context.Context, olderThan time.Time, limit int) ([]model.Message, error)
	ClaimPendingMedia(ctx context.Context, messageID string, olderThan time.Time) (bool, error)
}

// LeadRepo defines lead storage operations
type LeadRepo interface {
	Create(ctx context.Context, lead *model.Lead) error
	FindOrCreateByPhone(ctx context.Context, lead *model.Lead) (*model.Lead, bool, error)
	FindByID(ctx context.Context, id string) (*model.Lead, error)
	UpdateAttribution(ctx context.Context, leadID, visitorID string, score, sessionSeconds int) (bool, error)
}

// VisitorRepo defines visitor and conversion storage operations
type VisitorRepo interface {
	FindLatest(ctx context.Context, visitorID string) (*model.Visitor, error)
	FindRecent(ctx context.Context, since time.Time, limit int) ([]model.Visitor, error)
	SaveConversion(ctx context.Context, conv model.Conversion) (bool, error)
}

// CustomFieldRepo defines custom field storage operations
type CustomFieldRepo interface {
	FindByNumericID(ctx context.Context, numericID int64) (*model.CustomFieldDefinition, error)
	FindOrCreateByName(ctx context.Context, def model.CustomFieldDefinition) (*model.CustomFieldDefinition, bool, error)
	UpsertValue(ctx context.Context, value model.CustomFieldValue) error
}

// ExhaustedRelayTaskRepo defines exhausted relay task storage operations
type ExhaustedRelayTaskRepo interface {
	Save(ctx context.Context, task model.ExhaustedRelayTask) error
}
