package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/phone"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

// --- Lead Repository Methods ---

// CreateLead inserts a lead without any deduplication.
func (r *PostgresRepo) CreateLead(ctx context.Context, lead *model.Lead) error {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return err
	}
	if err := prepareLead(lead, companyID); err != nil {
		return err
	}

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(lead).Error)
	}
	if err := r.observed(ctx, "insert", "lead", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to create lead", zap.Error(err))
		return err
	}
	return nil
}

// FindOrCreateLeadByPhone returns the tenant's live lead whose phone matches any format
// variant of lead.Phone, or inserts lead. Concurrent callers for the same number are
// serialised by a transaction-scoped advisory lock keyed on tenant and national number.
func (r *PostgresRepo) FindOrCreateLeadByPhone(ctx context.Context, lead *model.Lead) (*model.Lead, bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := prepareLead(lead, companyID); err != nil {
		return nil, false, err
	}
	variants, err := phone.Variants(lead.Phone)
	if err != nil {
		return nil, false, err
	}
	lockKey, err := phone.LockKey(companyID, lead.Phone)
	if err != nil {
		return nil, false, err
	}

	var (
		found   model.Lead
		created bool
	)
	operation := func() error {
		created = false
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockKey).Error; err != nil {
				return checkConstraintViolation(err)
			}

			err := tx.Where("company_id = ? AND phone IN ?", companyID, variants).
				Order("created_at ASC").
				First(&found).Error
			if err == nil {
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return checkConstraintViolation(err)
			}

			if err := tx.Create(lead).Error; err != nil {
				return checkConstraintViolation(err)
			}
			found = *lead
			created = true
			return nil
		})
	}

	if err := r.observed(ctx, "upsert", "lead", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Error("Failed to find or create lead by phone", zap.Error(err))
		return nil, false, err
	}
	return &found, created, nil
}

// FindLeadByID returns a live lead of the current tenant.
func (r *PostgresRepo) FindLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var lead model.Lead
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("id = ? AND company_id = ?", id, companyID).
			First(&lead).Error)
	}
	if err := r.observed(ctx, "find", "lead", companyID, readRetryMaxElapsedTime, operation); err != nil {
		return nil, err
	}
	return &lead, nil
}

// UpdateLeadAttribution back-fills the visitor correlation. A lead already bound to a
// different visitor is left alone and reported as (false, nil).
func (r *PostgresRepo) UpdateLeadAttribution(ctx context.Context, leadID, visitorID string, score, sessionSeconds int) (bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return false, err
	}

	var updated bool
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Lead{}).
			Where("id = ? AND company_id = ? AND (visitor_id IS NULL OR visitor_id = ?)", leadID, companyID, visitorID).
			Updates(map[string]interface{}{
				"visitor_id":       visitorID,
				"engagement_score": score,
				"session_duration": sessionSeconds,
				"updated_at":       utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		updated = result.RowsAffected > 0
		return nil
	}

	if err := r.observed(ctx, "update", "lead_attribution", companyID, defaultRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to update lead attribution", zap.String("lead_id", leadID), zap.Error(err))
		return false, err
	}
	return updated, nil
}

func prepareLead(lead *model.Lead, companyID string) error {
	if lead.CompanyID != "" && lead.CompanyID != companyID {
		return fmt.Errorf("%w: lead CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, lead.CompanyID, companyID)
	}
	lead.CompanyID = companyID
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	return nil
}
