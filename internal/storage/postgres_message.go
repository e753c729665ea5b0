package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

// --- Message Repository Methods ---

// FindMessageByProviderID looks a message up by provider id across all tenants.
// The unique index on provider_message_id is global, so a hit in another tenant is
// still a duplicate for the caller.
func (r *PostgresRepo) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	companyID, _ := companyFromContext(ctx) // metrics label only

	var msg model.Message
	operation := func() error {
		err := r.db.WithContext(ctx).
			Where("provider_message_id = ?", providerMessageID).
			First(&msg).Error
		if err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	if err := r.observed(ctx, "find", "message", companyID, readRetryMaxElapsedTime, operation); err != nil {
		if !apperrors.IsNotFoundError(err) {
			logger.FromContext(ctx).Error("Failed to find message by provider id", zap.String("provider_message_id", providerMessageID), zap.Error(err))
		}
		return nil, err
	}
	return &msg, nil
}

// FindMessageByID returns a message of the current tenant.
func (r *PostgresRepo) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var msg model.Message
	operation := func() error {
		err := r.db.WithContext(ctx).
			Where("id = ? AND company_id = ?", id, companyID).
			First(&msg).Error
		return checkConstraintViolation(err)
	}

	if err := r.observed(ctx, "find", "message", companyID, readRetryMaxElapsedTime, operation); err != nil {
		return nil, err
	}
	return &msg, nil
}

// InsertMessageIfAbsent inserts msg unless its provider_message_id already exists.
// It reports whether this call created the row; a lost race is not an error.
func (r *PostgresRepo) InsertMessageIfAbsent(ctx context.Context, msg *model.Message) (bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return false, err
	}
	if msg.CompanyID != "" && msg.CompanyID != companyID {
		return false, fmt.Errorf("%w: message CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, msg.CompanyID, companyID)
	}
	msg.CompanyID = companyID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.MediaStatus == "" {
		msg.MediaStatus = model.MediaStatusNone
	}

	var inserted bool
	operation := func() error {
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_message_id"}}, DoNothing: true}).
			Create(msg)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		inserted = result.RowsAffected > 0
		return nil
	}

	if err := r.observed(ctx, "insert", "message", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to insert message", zap.String("provider_message_id", msg.ProviderMessageID), zap.Error(err))
		return false, err
	}
	return inserted, nil
}

// UpdateMessageMedia rewrites the media reference, the only mutable part of a message.
func (r *PostgresRepo) UpdateMessageMedia(ctx context.Context, messageID, mediaURL, mimeType string, status model.MediaStatus) error {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"media_url":    mediaURL,
		"media_status": status,
		"updated_at":   utils.Now(),
	}
	if mimeType != "" {
		updates["media_mime_type"] = mimeType
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND company_id = ?", messageID, companyID).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
		}
		return nil
	}

	if err := r.observed(ctx, "update", "message_media", companyID, defaultRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to update message media", zap.String("message_id", messageID), zap.Error(err))
		return err
	}
	return nil
}

// FindPendingMedia lists, across tenants, media messages that still point at the
// provider and have not been touched since olderThan, oldest first.
func (r *PostgresRepo) FindPendingMedia(ctx context.Context, olderThan time.Time, limit int) ([]model.Message, error) {
	var msgs []model.Message
	operation := func() error {
		err := r.db.WithContext(ctx).
			Where("media_status IN ? AND media_url <> '' AND updated_at < ?",
				[]model.MediaStatus{model.MediaStatusPending, model.MediaStatusOriginal}, olderThan).
			Order("updated_at ASC").
			Limit(limit).
			Find(&msgs).Error
		return checkConstraintViolation(err)
	}

	if err := r.observed(ctx, "find", "pending_media", "", readRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to list pending media", zap.Error(err))
		return nil, err
	}
	return msgs, nil
}

// ClaimPendingMedia bumps updated_at on a message whose media is still pending
// and untouched since olderThan. False means another producer claimed it first
// or the media is no longer pending.
func (r *PostgresRepo) ClaimPendingMedia(ctx context.Context, messageID string, olderThan time.Time) (bool, error) {
	var claimed bool
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND media_status IN ? AND updated_at < ?",
				messageID, []model.MediaStatus{model.MediaStatusPending, model.MediaStatusOriginal}, olderThan).
			Updates(map[string]interface{}{"updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		claimed = result.RowsAffected == 1
		return nil
	}

	if err := r.observed(ctx, "claim", "pending_media", "", defaultRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to claim pending media", zap.String("message_id", messageID), zap.Error(err))
		return false, err
	}
	return claimed, nil
}
