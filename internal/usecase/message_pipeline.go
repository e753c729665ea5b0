package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/ingestion"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/phone"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

const (
	NoteDuplicateIgnored = "duplicate ignored"
	MsgUnknownInstance   = "unknown instance"

	contactSourceWhatsApp = "whatsapp"
)

// HandleMessageWebhook persists one messaging provider event. The result is what
// the caller returns to the provider; the error only classifies the outcome and
// is non-nil for rejected, filtered and duplicate events alike.
func (s *PipelineService) HandleMessageWebhook(ctx context.Context, body []byte) (model.WebhookResult, error) {
	log := logger.FromContext(ctx)

	stage := time.Now()
	env, err := ingestion.Normalize(body)
	observer.ObserveStageDuration("normalize", time.Since(stage))
	if err != nil {
		log.Warn("Rejected message webhook", zap.Error(err))
		return failedResult(err.Error()), err
	}

	cls, err := ingestion.Classify(env.Event, s.now())
	if err != nil {
		if errors.Is(err, apperrors.ErrFiltered) {
			log.Debug("Message filtered", zap.String("reason", err.Error()))
			return model.WebhookResult{Success: true, Note: err.Error()}, err
		}
		log.Info("Unsupported message webhook", zap.Error(err))
		return failedResult(err.Error()), err
	}
	log = log.With(
		zap.String("provider_message_id", cls.ProviderMessageID),
		zap.String("instance_name", cls.InstanceName),
	)

	// Tenant
	stage = time.Now()
	inst, err := s.tenants.FindInstanceByName(ctx, cls.InstanceName)
	observer.ObserveStageDuration("resolve_tenant", time.Since(stage))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Message webhook for unknown instance")
			return failedResult(MsgUnknownInstance), fmt.Errorf("%w: %s %q", apperrors.ErrUnauthorized, MsgUnknownInstance, cls.InstanceName)
		}
		log.Error("Failed to resolve channel instance", zap.Error(err))
		return failedResult("failed to resolve instance"), err
	}
	ctx = tenant.WithInstanceName(tenant.WithCompanyID(ctx, inst.CompanyID), inst.InstanceName)
	log = log.With(zap.String("company_id", inst.CompanyID))

	phoneNumber, err := phone.Normalize(cls.Phone)
	if err != nil {
		log.Info("Rejected message with invalid phone number", zap.String("phone", cls.Phone))
		return failedResult(err.Error()), err
	}
	if isSelfLoop(phoneNumber, cls.Owner, inst.OwnerPhone) {
		err := fmt.Errorf("%w: self-sent loop", apperrors.ErrFiltered)
		log.Debug("Message filtered", zap.String("reason", err.Error()))
		return model.WebhookResult{Success: true, Note: err.Error()}, err
	}

	// Dedup fast path. The insert below is the real guard.
	if existing, err := s.messages.FindByProviderMessageID(ctx, cls.ProviderMessageID); err == nil {
		return s.duplicateResult(ctx, existing, inst.CompanyID)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("Duplicate lookup failed, relying on insert guard", zap.Error(err))
	}

	// Identity
	stage = time.Now()
	contact, err := s.contacts.Upsert(ctx, model.Contact{
		PhoneNumber: phoneNumber,
		Name:        cls.ContactName,
		AvatarURL:   cls.AvatarURL,
		Source:      contactSourceWhatsApp,
	})
	if err != nil {
		log.Error("Failed to upsert contact", zap.Error(err))
		return failedResult("failed to persist contact"), handleRepositoryError(ctx, err, "UpsertContact", phoneNumber)
	}
	var contactName *string
	if cls.ContactName != "" {
		contactName = &cls.ContactName
	}
	conv, err := s.conversations.Upsert(ctx, model.Conversation{
		PhoneNumber:   phoneNumber,
		ContactID:     contact.ID,
		ContactName:   contactName,
		Status:        model.ConversationStatusOpen,
		LastMessageAt: cls.Timestamp,
	})
	observer.ObserveStageDuration("resolve_identity", time.Since(stage))
	if err != nil {
		log.Error("Failed to upsert conversation", zap.Error(err))
		return failedResult("failed to persist conversation"), handleRepositoryError(ctx, err, "UpsertConversation", phoneNumber)
	}

	// Message
	msg := &model.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		ProviderMessageID: cls.ProviderMessageID,
		InstanceName:      inst.InstanceName,
		Direction:         cls.Direction,
		Origin:            cls.Origin,
		Type:              cls.Type,
		Content:           cls.Text,
		MediaURL:          cls.MediaURL,
		MediaMimeType:     cls.MimeType,
		MediaStatus:       model.MediaStatusNone,
		DeliveryStatus:    cls.DeliveryStatus(),
		Timestamp:         cls.Timestamp,
		RawPayload:        datatypes.JSON(env.Raw),
	}
	if msg.IsMedia() {
		msg.MediaStatus = model.MediaStatusPending
	}

	stage = time.Now()
	inserted, err := s.messages.InsertIfAbsent(ctx, msg)
	observer.ObserveStageDuration("insert_message", time.Since(stage))
	if err != nil {
		log.Error("Failed to insert message", zap.Error(err))
		return failedResult("failed to persist message"), handleRepositoryError(ctx, err, "InsertMessage", cls.ProviderMessageID)
	}
	if !inserted {
		winner, err := s.messages.FindByProviderMessageID(ctx, cls.ProviderMessageID)
		if err != nil {
			log.Warn("Lost insert race but could not read the winning row", zap.Error(err))
			return model.WebhookResult{Success: true, Note: NoteDuplicateIgnored}, fmt.Errorf("%w: message %s", apperrors.ErrDuplicate, cls.ProviderMessageID)
		}
		return s.duplicateResult(ctx, winner, inst.CompanyID)
	}
	log = log.With(zap.String("message_id", msg.ID))

	// Everything below is best-effort.
	if msg.MediaStatus == model.MediaStatusPending {
		stage = time.Now()
		s.relayInline(ctx, msg, inst)
		observer.ObserveStageDuration("relay_media", time.Since(stage))
	}

	if cls.Direction == model.DirectionInbound && s.cfg.LeadsFromMessages && s.attribution != nil {
		name := contact.Name
		if name == "" {
			name = cls.ContactName
		}
		if err := s.attribution.SubmitTask(AttributionTask{
			Ctx:         tenant.Detach(ctx),
			CompanyID:   inst.CompanyID,
			Source:      AttributionSourceMessage,
			MessageID:   msg.ID,
			Phone:       phoneNumber,
			ContactName: name,
		}); err != nil {
			log.Warn("Attribution task dropped", zap.Error(err))
		}
	}

	log.Info("Message persisted",
		zap.String("direction", msg.Direction),
		zap.String("origin", msg.Origin),
		zap.String("type", msg.Type),
		zap.String("media_status", string(msg.MediaStatus)),
	)
	return model.WebhookResult{Success: true, MessageID: msg.ID}, nil
}

// relayInline relays a freshly inserted message's media and records where the
// reference ended up. Retryable failures are handed to the relay queue.
func (s *PipelineService) relayInline(ctx context.Context, msg *model.Message, inst *model.ChannelInstance) {
	log := logger.FromContext(ctx).With(zap.String("message_id", msg.ID))
	if s.relayer == nil {
		return
	}

	res, err := s.relayer.Relay(ctx, media.Request{
		CompanyID:      inst.CompanyID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SourceURL:      msg.MediaURL,
		MimeHint:       msg.MediaMimeType,
		Token:          inst.Token,
		Origin:         model.RelayOriginRequest,
	})
	if err == nil {
		msg.MediaURL, msg.MediaStatus = res.URL, model.MediaStatusRelayed
		if res.MimeType != "" {
			msg.MediaMimeType = res.MimeType
		}
		if err := s.messages.UpdateMedia(ctx, msg.ID, res.URL, res.MimeType, model.MediaStatusRelayed); err != nil {
			log.Error("Media relayed but message reference not updated", zap.String("key", res.Key), zap.Error(err))
		}
		return
	}

	status := model.MediaStatusOriginal
	if apperrors.IsFatal(err) {
		status = model.MediaStatusFailed
	}
	msg.MediaStatus = status
	if err := s.messages.UpdateMedia(ctx, msg.ID, msg.MediaURL, "", status); err != nil {
		log.Warn("Failed to record media relay status", zap.String("media_status", string(status)), zap.Error(err))
	}

	if status != model.MediaStatusOriginal || s.publisher == nil {
		return
	}
	task := model.RelayTask{
		CompanyID:         inst.CompanyID,
		MessageID:         msg.ID,
		ConversationID:    msg.ConversationID,
		ProviderMessageID: msg.ProviderMessageID,
		InstanceName:      inst.InstanceName,
		SourceURL:         msg.MediaURL,
		MediaType:         msg.Type,
		MimeType:          msg.MediaMimeType,
		Origin:            model.RelayOriginRequest,
	}
	if err := s.publisher.PublishRelayTask(ctx, task); err != nil {
		log.Warn("Failed to enqueue media relay retry, sweeper will pick it up", zap.Error(err))
	}
}

func (s *PipelineService) duplicateResult(ctx context.Context, existing *model.Message, companyID string) (model.WebhookResult, error) {
	log := logger.FromContext(ctx)
	if existing.CompanyID != companyID {
		log.Warn("Provider message id already stored for another tenant",
			zap.String("provider_message_id", existing.ProviderMessageID),
			zap.String("owner_company_id", existing.CompanyID),
		)
	} else {
		log.Debug("Duplicate message ignored", zap.String("message_id", existing.ID))
	}
	return model.WebhookResult{Success: true, MessageID: existing.ID, Note: NoteDuplicateIgnored},
		fmt.Errorf("%w: message %s", apperrors.ErrDuplicate, existing.ProviderMessageID)
}

// isSelfLoop reports whether the counterpart is the tenant's own number.
func isSelfLoop(counterpart string, owners ...string) bool {
	for _, owner := range owners {
		if owner == "" {
			continue
		}
		digits, err := phone.Normalize(owner)
		if err != nil {
			continue
		}
		if phone.National(digits) == phone.National(counterpart) {
			return true
		}
	}
	return false
}

func failedResult(msg string) model.WebhookResult {
	return model.WebhookResult{Success: false, Error: msg}
}
