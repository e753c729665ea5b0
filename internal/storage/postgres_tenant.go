package storage

import (
	"context"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
)

// --- Tenant Resolution ---
// These lookups run before a tenant is known, so they are not scoped by context.

// FindCompanyByAPIKey resolves the tenant of a form webhook.
func (r *PostgresRepo) FindCompanyByAPIKey(ctx context.Context, apiKey string) (*model.Company, error) {
	var company model.Company
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("api_key = ?", apiKey).
			First(&company).Error)
	}
	if err := r.observed(ctx, "find", "company", "", readRetryMaxElapsedTime, operation); err != nil {
		return nil, err
	}
	return &company, nil
}

// FindInstanceByName resolves the tenant of a messaging webhook.
func (r *PostgresRepo) FindInstanceByName(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	var inst model.ChannelInstance
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("instance_name = ?", instanceName).
			First(&inst).Error)
	}
	if err := r.observed(ctx, "find", "channel_instance", "", readRetryMaxElapsedTime, operation); err != nil {
		return nil, err
	}
	return &inst, nil
}
