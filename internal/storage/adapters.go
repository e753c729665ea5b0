package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
)

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

func (a *ContactRepoAdapter) Upsert(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	return a.postgres.UpsertContact(ctx, contact)
}

// ConversationRepoAdapter adapts the PostgresRepo to the ConversationRepo interface
type ConversationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewConversationRepoAdapter creates a new conversation repository adapter
func NewConversationRepoAdapter(postgres *PostgresRepo) ConversationRepo {
	return &ConversationRepoAdapter{postgres: postgres}
}

func (a *ConversationRepoAdapter) Upsert(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	return a.postgres.UpsertConversation(ctx, conv)
}

// MessageRepoAdapter adapts the PostgresRepo to the MessageRepo interface
type MessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(postgres *PostgresRepo) MessageRepo {
	return &MessageRepoAdapter{postgres: postgres}
}

func (a *MessageRepoAdapter) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	return a.postgres.FindMessageByProviderID(ctx, providerMessageID)
}

func (a *MessageRepoAdapter) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return a.postgres.FindMessageByID(ctx, id)
}

func (a *MessageRepoAdapter) InsertIfAbsent(ctx context.Context, msg *model.Message) (bool, error) {
	return a.postgres.InsertMessageIfAbsent(ctx, msg)
}

func (a *MessageRepoAdapter) UpdateMedia(ctx context.Context, messageID, mediaURL, mimeType string, status model.MediaStatus) error {
	return a.postgres.UpdateMessageMedia(ctx, messageID, mediaURL, mimeType, status)
}

func (a *MessageRepoAdapter) FindPendingMedia(ctx context.Context, olderThan time.Time, limit int) ([]model.Message, error) {
	return a.postgres.FindPendingMedia(ctx, olderThan, limit)
}

func (a *MessageRepoAdapter) ClaimPendingMedia(ctx context.Context, messageID string, olderThan time.Time) (bool, error) {
	return a.postgres.ClaimPendingMedia(ctx, messageID, olderThan)
}

// LeadRepoAdapter adapts the PostgresRepo to the LeadRepo interface
type LeadRepoAdapter struct {
	postgres *PostgresRepo
}

// NewLeadRepoAdapter creates a new lead repository adapter
func NewLeadRepoAdapter(postgres *PostgresRepo) LeadRepo {
	return &LeadRepoAdapter{postgres: postgres}
}

func (a *LeadRepoAdapter) Create(ctx context.Context, lead *model.Lead) error {
	return a.postgres.CreateLead(ctx, lead)
}

func (a *LeadRepoAdapter) FindOrCreateByPhone(ctx context.Context, lead *model.Lead) (*model.Lead, bool, error) {
	return a.postgres.FindOrCreateLeadByPhone(ctx, lead)
}

func (a *LeadRepoAdapter) FindByID(ctx context.Context, id string) (*model.Lead, error) {
	return a.postgres.FindLeadByID(ctx, id)
}

func (a *LeadRepoAdapter) UpdateAttribution(ctx context.Context, leadID, visitorID string, score, sessionSeconds int) (bool, error) {
	return a.postgres.UpdateLeadAttribution(ctx, leadID, visitorID, score, sessionSeconds)
}

// VisitorRepoAdapter adapts the PostgresRepo to the VisitorRepo interface
type VisitorRepoAdapter struct {
	postgres *PostgresRepo
}

// NewVisitorRepoAdapter creates a new visitor repository adapter
func NewVisitorRepoAdapter(postgres *PostgresRepo) VisitorRepo {
	return &VisitorRepoAdapter{postgres: postgres}
}

func (a *VisitorRepoAdapter) FindLatest(ctx context.Context, visitorID string) (*model.Visitor, error) {
	return a.postgres.FindLatestVisitor(ctx, visitorID)
}

func (a *VisitorRepoAdapter) FindRecent(ctx context.Context, since time.Time, limit int) ([]model.Visitor, error) {
	return a.postgres.FindRecentVisitors(ctx, since, limit)
}

func (a *VisitorRepoAdapter) SaveConversion(ctx context.Context, conv model.Conversion) (bool, error) {
	return a.postgres.SaveConversion(ctx, conv)
}

// CustomFieldRepoAdapter adapts the PostgresRepo to the CustomFieldRepo interface
type CustomFieldRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCustomFieldRepoAdapter creates a new custom field repository adapter
func NewCustomFieldRepoAdapter(postgres *PostgresRepo) CustomFieldRepo {
	return &CustomFieldRepoAdapter{postgres: postgres}
}

func (a *CustomFieldRepoAdapter) FindByNumericID(ctx context.Context, numericID int64) (*model.CustomFieldDefinition, error) {
	return a.postgres.FindFieldByNumericID(ctx, numericID)
}

func (a *CustomFieldRepoAdapter) FindOrCreateByName(ctx context.Context, def model.CustomFieldDefinition) (*model.CustomFieldDefinition, bool, error) {
	return a.postgres.FindOrCreateFieldByName(ctx, def)
}

func (a *CustomFieldRepoAdapter) UpsertValue(ctx context.Context, value model.CustomFieldValue) error {
	return a.postgres.UpsertFieldValue(ctx, value)
}

// ExhaustedRelayTaskRepoAdapter adapts the PostgresRepo to the ExhaustedRelayTaskRepo interface
type ExhaustedRelayTaskRepoAdapter struct {
	postgres *PostgresRepo
}

// NewExhaustedRelayTaskRepoAdapter creates a new exhausted relay task repository adapter
func NewExhaustedRelayTaskRepoAdapter(postgres *PostgresRepo) ExhaustedRelayTaskRepo {
	return &ExhaustedRelayTaskRepoAdapter{postgres: postgres}
}

func (a *ExhaustedRelayTaskRepoAdapter) Save(ctx context.Context, task model.ExhaustedRelayTask) error {
	return a.postgres.SaveExhaustedRelayTask(ctx, task)
}

// compile-time interface checks
var (
	_ TenantRepo             = (*PostgresRepo)(nil)
	_ ContactRepo            = (*ContactRepoAdapter)(nil)
	_ ConversationRepo       = (*ConversationRepoAdapter)(nil)
	_ MessageRepo            = (*MessageRepoAdapter)(nil)
	_ LeadRepo               = (*LeadRepoAdapter)(nil)
	_ VisitorRepo            = (*VisitorRepoAdapter)(nil)
	_ CustomFieldRepo        = (*CustomFieldRepoAdapter)(nil)
	_ ExhaustedRelayTaskRepo = (*ExhaustedRelayTaskRepoAdapter)(nil)
)
