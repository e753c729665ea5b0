package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// SaveExhaustedRelayTask saves a relay task that used up its attempts.
func (r *PostgresRepo) SaveExhaustedRelayTask(ctx context.Context, task model.ExhaustedRelayTask) error {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return err
	}
	if task.CompanyID != companyID {
		return fmt.Errorf("%w: task CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, task.CompanyID, companyID)
	}

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		if err := tx.Create(&task).Error; err != nil {
			tx.Rollback()
			return checkConstraintViolation(err)
		}
		if err := tx.Commit().Error; err != nil {
			return fmt.Errorf("%w: failed to commit exhausted relay task: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}

	if err := r.observed(ctx, "insert", "exhausted_relay_task", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to save exhausted relay task",
			zap.String("message_id", task.MessageID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
