package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// --- Visitor / Conversion Repository Methods ---

// FindLatestVisitor returns the most recent tracking row for a client visitor id.
func (r *PostgresRepo) FindLatestVisitor(ctx context.Context, visitorID string) (*model.Visitor, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var v model.Visitor
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("company_id = ? AND visitor_id = ?", companyID, visitorID).
			Order("created_at DESC").
			First(&v).Error)
	}
	if err := r.observed(ctx, "find", "visitor", companyID, readRetryMaxElapsedTime, operation); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindRecentVisitors lists the tenant's visitors created at or after since that carry a
// visitor id, newest first.
func (r *PostgresRepo) FindRecentVisitors(ctx context.Context, since time.Time, limit int) ([]model.Visitor, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var visitors []model.Visitor
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("company_id = ? AND created_at >= ? AND visitor_id IS NOT NULL", companyID, since).
			Order("created_at DESC").
			Limit(limit).
			Find(&visitors).Error)
	}
	if err := r.observed(ctx, "find", "recent_visitors", companyID, readRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to list recent visitors", zap.Error(err))
		return nil, err
	}
	return visitors, nil
}

// SaveConversion records the lead/visitor correlation once per visitor. It reports
// whether a row was written.
func (r *PostgresRepo) SaveConversion(ctx context.Context, conv model.Conversion) (bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return false, err
	}
	conv.CompanyID = companyID
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	var inserted bool
	operation := func() error {
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "company_id"}, {Name: "visitor_id"}},
				DoNothing: true,
			}).
			Create(&conv)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		inserted = result.RowsAffected > 0
		return nil
	}
	if err := r.observed(ctx, "insert", "conversion", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to save conversion", zap.String("visitor_id", conv.VisitorID), zap.Error(err))
		return false, err
	}
	return inserted, nil
}
