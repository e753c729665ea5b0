package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/phone"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// HandleFormWebhook creates (or reuses) the lead for a form conversion and queues
// its custom fields and visitor correlation. The returned status is the HTTP
// status the caller should answer with.
func (s *PipelineService) HandleFormWebhook(ctx context.Context, body []byte) (model.FormResult, int, error) {
	log := logger.FromContext(ctx)

	sub, err := ParseFormSubmission(body)
	if err != nil {
		log.Info("Rejected malformed form webhook", zap.Error(err))
		return formFailure(err.Error()), http.StatusBadRequest, err
	}
	if sub.APIKey == "" {
		err := fmt.Errorf("%w: api_key is required", apperrors.ErrBadRequest)
		return formFailure("api_key is required"), http.StatusBadRequest, err
	}

	company, err := s.tenants.FindCompanyByAPIKey(ctx, sub.APIKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Form webhook with unknown api key")
			return formFailure("invalid api_key"), http.StatusUnauthorized, fmt.Errorf("%w: invalid api_key", apperrors.ErrUnauthorized)
		}
		log.Error("Failed to resolve company by api key", zap.Error(err))
		return formFailure("failed to resolve company"), http.StatusInternalServerError, err
	}
	ctx = tenant.WithCompanyID(ctx, company.ID)
	log = logger.FromContext(ctx)

	if !sub.HasIdentity() {
		err := fmt.Errorf("%w: name or email is required", apperrors.ErrInsufficientLeadData)
		log.Info("Form rejected without lead identity")
		return formFailure("name or email is required"), http.StatusBadRequest, err
	}

	lead := &model.Lead{
		ID:             uuid.NewString(),
		Name:           sub.Lead.Name,
		Email:          sub.Lead.Email,
		Phone:          sub.Lead.Phone,
		Interest:       sub.Lead.Interest,
		Origin:         sub.Origin,
		Status:         model.LeadStatusNew,
		CompanyName:    sub.Lead.CompanyName,
		CompanyRole:    sub.Lead.CompanyRole,
		CompanySize:    sub.Lead.CompanySize,
		CompanySegment: sub.Lead.CompanySegment,
		RawPayload:     datatypes.JSON(sub.Raw),
	}

	created := true
	if digits, perr := phone.Normalize(lead.Phone); perr == nil {
		lead.Phone = digits
		var stored *model.Lead
		stored, created, err = s.leads.FindOrCreateByPhone(ctx, lead)
		if err == nil {
			lead = stored
		}
	} else {
		err = s.leads.Create(ctx, lead)
	}
	if err != nil {
		log.Error("Failed to persist lead", zap.Error(err))
		return formFailure("failed to persist lead"), http.StatusInternalServerError, handleRepositoryError(ctx, err, "CreateLead", lead.ID)
	}
	log = log.With(zap.String("lead_id", lead.ID))

	if s.attribution != nil {
		if err := s.attribution.SubmitTask(AttributionTask{
			Ctx:       tenant.Detach(ctx),
			CompanyID: company.ID,
			Source:    AttributionSourceForm,
			LeadID:    lead.ID,
			VisitorID: sub.VisitorID,
			Fields:    sub.Fields,
		}); err != nil {
			log.Warn("Attribution task dropped", zap.Error(err))
		}
	}

	log.Info("Lead captured from form",
		zap.Bool("created", created),
		zap.String("origin", lead.Origin),
		zap.Int("custom_fields", len(sub.Fields)),
		zap.Bool("has_visitor_id", sub.VisitorID != ""),
	)
	return model.FormResult{Success: true, LeadID: lead.ID}, http.StatusOK, nil
}

func formFailure(msg string) model.FormResult {
	return model.FormResult{Success: false, Error: msg}
}
