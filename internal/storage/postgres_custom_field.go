package storage

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

// --- Custom Field Repository Methods ---

// FindFieldByNumericID resolves a definition by its tenant-scoped numeric id.
func (r *PostgresRepo) FindFieldByNumericID(ctx context.Context, numericID int64) (*model.CustomFieldDefinition, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var def model.CustomFieldDefinition
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("company_id = ? AND numeric_id = ?", companyID, numericID).
			First(&def).Error)
	}
	if err := r.observed(ctx, "find", "custom_field", companyID, readRetryMaxElapsedTime, operation); err != nil {
		return nil, err
	}
	return &def, nil
}

// FindOrCreateFieldByName inserts def unless (tenant, field_name) exists and returns the
// stored definition. created is true only for the caller whose insert won.
func (r *PostgresRepo) FindOrCreateFieldByName(ctx context.Context, def model.CustomFieldDefinition) (*model.CustomFieldDefinition, bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	def.CompanyID = companyID
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	var (
		stored  model.CustomFieldDefinition
		created bool
	)
	operation := func() error {
		row := def
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "company_id"}, {Name: "field_name"}},
				DoNothing: true,
			}).
			Create(&row)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected > 0 {
			stored, created = row, true
			return nil
		}
		created = false
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("company_id = ? AND field_name = ?", companyID, def.FieldName).
			First(&stored).Error)
	}
	if err := r.observed(ctx, "upsert", "custom_field", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to resolve custom field", zap.String("field_name", def.FieldName), zap.Error(err))
		return nil, false, err
	}
	return &stored, created, nil
}

// UpsertFieldValue writes a lead's value for a definition, replacing any previous value.
func (r *PostgresRepo) UpsertFieldValue(ctx context.Context, value model.CustomFieldValue) error {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return err
	}
	value.CompanyID = companyID
	if value.ID == "" {
		value.ID = uuid.NewString()
	}
	now := utils.Now()
	value.CreatedAt, value.UpdatedAt = now, now

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "lead_id"}, {Name: "field_id"}},
				DoUpdates: clause.Set{
					{Column: clause.Column{Name: "value"}, Value: gorm.Expr("EXCLUDED.value")},
					{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("EXCLUDED.updated_at")},
				},
			}).
			Create(&value).Error)
	}
	if err := r.observed(ctx, "upsert", "custom_field_value", companyID, commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to upsert custom field value", zap.String("lead_id", value.LeadID), zap.Error(err))
		return err
	}
	return nil
}
