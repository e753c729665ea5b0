package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

// --- Contact / Conversation Repository Methods ---

var phoneConflictColumns = []clause.Column{{Name: "company_id"}, {Name: "phone_number"}}

// UpsertContact inserts the contact or refreshes an existing one for (tenant, phone) in a
// single statement, returning the stored row. Empty names and avatars never overwrite.
func (r *PostgresRepo) UpsertContact(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if contact.CompanyID != "" && contact.CompanyID != companyID {
		return nil, fmt.Errorf("%w: contact CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, contact.CompanyID, companyID)
	}
	contact.CompanyID = companyID
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	now := utils.Now()
	contact.CreatedAt, contact.UpdatedAt = now, now

	upsert := clause.OnConflict{
		Columns: phoneConflictColumns,
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "name"}, Value: gorm.Expr("COALESCE(NULLIF(EXCLUDED.name, ''), contacts.name)")},
			{Column: clause.Column{Name: "avatar_url"}, Value: gorm.Expr("COALESCE(NULLIF(EXCLUDED.avatar_url, ''), contacts.avatar_url)")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("EXCLUDED.updated_at")},
		},
	}

	operation := func() error {
		row := contact
		if err := r.db.WithContext(ctx).Clauses(upsert, clause.Returning{}).Create(&row).Error; err != nil {
			return checkConstraintViolation(err)
		}
		contact = row
		return nil
	}

	if err := r.observed(ctx, "upsert", "contact", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to upsert contact", zap.String("phone_number", contact.PhoneNumber), zap.Error(err))
		return nil, err
	}
	return &contact, nil
}

// UpsertConversation inserts or refreshes the conversation for (tenant, phone).
// contact_name is only written while NULL so operator edits survive.
func (r *PostgresRepo) UpsertConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if conv.CompanyID != "" && conv.CompanyID != companyID {
		return nil, fmt.Errorf("%w: conversation CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, conv.CompanyID, companyID)
	}
	conv.CompanyID = companyID
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Status == "" {
		conv.Status = model.ConversationStatusOpen
	}
	now := utils.Now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = now
	}

	upsert := clause.OnConflict{
		Columns: phoneConflictColumns,
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "contact_name"}, Value: gorm.Expr("COALESCE(conversations.contact_name, EXCLUDED.contact_name)")},
			{Column: clause.Column{Name: "contact_id"}, Value: gorm.Expr("COALESCE(NULLIF(conversations.contact_id, ''), EXCLUDED.contact_id)")},
			{Column: clause.Column{Name: "last_message_at"}, Value: gorm.Expr("GREATEST(conversations.last_message_at, EXCLUDED.last_message_at)")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("EXCLUDED.updated_at")},
		},
	}

	operation := func() error {
		row := conv
		if err := r.db.WithContext(ctx).Clauses(upsert, clause.Returning{}).Create(&row).Error; err != nil {
			return checkConstraintViolation(err)
		}
		conv = row
		return nil
	}

	if err := r.observed(ctx, "upsert", "conversation", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to upsert conversation", zap.String("phone_number", conv.PhoneNumber), zap.Error(err))
		return nil, err
	}
	return &conv, nil
}
