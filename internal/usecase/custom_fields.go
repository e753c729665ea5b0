package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

const defaultFieldConcurrency = 4

// FieldOutcome is what happened to one submitted custom field.
type FieldOutcome string

const (
	FieldStored         FieldOutcome = "stored"
	FieldCreated        FieldOutcome = "created" // definition auto-created, value stored
	FieldSkippedUnknown FieldOutcome = "skipped_unknown_id"
	FieldSkippedInvalid FieldOutcome = "skipped_invalid"
	FieldFailed         FieldOutcome = "failed"
)

// CustomFieldRegistry resolves form fields to tenant field definitions and stores
// the lead's values.
type CustomFieldRegistry struct {
	repo        storage.CustomFieldRepo
	concurrency int
}

// NewCustomFieldRegistry creates a registry resolving up to concurrency fields at once.
func NewCustomFieldRegistry(repo storage.CustomFieldRepo, concurrency int) *CustomFieldRegistry {
	if concurrency <= 0 {
		concurrency = defaultFieldConcurrency
	}
	return &CustomFieldRegistry{repo: repo, concurrency: concurrency}
}

// Persist stores every field for leadID. Numeric ids that do not resolve are
// skipped, unknown names are created with an inferred type. The returned error
// joins the per-field failures; outcomes line up with fields.
func (r *CustomFieldRegistry) Persist(ctx context.Context, leadID string, fields []FormField) ([]FieldOutcome, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	type fieldResult struct {
		outcome FieldOutcome
		err     error
	}
	mapper := iter.Mapper[FormField, fieldResult]{MaxGoroutines: r.concurrency}
	results := mapper.Map(fields, func(f *FormField) fieldResult {
		outcome, err := r.persistOne(ctx, leadID, *f)
		return fieldResult{outcome: outcome, err: err}
	})

	outcomes := make([]FieldOutcome, len(results))
	errs := make([]error, 0)
	for i, res := range results {
		outcomes[i] = res.outcome
		if res.err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", fields[i].Key, res.err))
		}
	}
	return outcomes, errors.Join(errs...)
}

func (r *CustomFieldRegistry) persistOne(ctx context.Context, leadID string, f FormField) (FieldOutcome, error) {
	log := logger.FromContext(ctx).With(zap.String("field_key", f.Key))
	value := model.InferFieldValue(f.Value)

	var (
		def     *model.CustomFieldDefinition
		created bool
		err     error
	)
	switch {
	case f.NumericID > 0:
		def, err = r.repo.FindByNumericID(ctx, f.NumericID)
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Debug("Skipping unknown numeric custom field", zap.Int64("numeric_id", f.NumericID))
			return FieldSkippedUnknown, nil
		}
	case f.Name != "":
		def, created, err = r.repo.FindOrCreateByName(ctx, model.CustomFieldDefinition{
			ID:        uuid.NewString(),
			FieldName: f.Name,
			Label:     f.Key,
			FieldType: value.Type(),
		})
	default:
		return FieldSkippedInvalid, nil
	}
	if err != nil {
		return FieldFailed, err
	}
	if created {
		observer.IncCustomFieldCreated(def.CompanyID, string(def.FieldType))
		log.Info("Custom field created", zap.String("field_name", def.FieldName), zap.String("field_type", string(def.FieldType)))
	}

	if err := r.repo.UpsertValue(ctx, model.CustomFieldValue{
		ID:      uuid.NewString(),
		LeadID:  leadID,
		FieldID: def.ID,
		Value:   value.String(),
	}); err != nil {
		return FieldFailed, err
	}
	if created {
		return FieldCreated, nil
	}
	return FieldStored, nil
}
