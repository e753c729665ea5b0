package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// RelayTaskHandler is what the relay worker needs from the pipeline.
type RelayTaskHandler interface {
	RetryRelay(ctx context.Context, task model.RelayTask) error
	ExhaustRelay(ctx context.Context, task model.RelayTask, subject string, attempts int, lastErr error) error
}

var _ RelayTaskHandler = (*PipelineService)(nil)

// RetryRelay re-runs the media relay for a queued task. Returned errors keep the
// Retryable/Fatal classification of the failing step.
func (s *PipelineService) RetryRelay(ctx context.Context, task model.RelayTask) error {
	ctx = tenant.WithCompanyID(ctx, task.CompanyID)
	log := logger.FromContext(ctx).With(zap.String("message_id", task.MessageID), zap.String("task_id", task.TaskID))

	msg, err := s.messages.FindByID(ctx, task.MessageID)
	if err != nil {
		return handleRepositoryError(ctx, err, "FindMessage", task.MessageID)
	}
	if msg.MediaStatus == model.MediaStatusRelayed {
		log.Debug("Media already relayed, nothing to do")
		return nil
	}

	sourceURL := task.SourceURL
	if sourceURL == "" {
		sourceURL = msg.MediaURL
	}

	var token string
	instanceName := task.InstanceName
	if instanceName == "" {
		instanceName = msg.InstanceName
	}
	if instanceName != "" {
		inst, err := s.tenants.FindInstanceByName(ctx, instanceName)
		switch {
		case err == nil && inst.CompanyID != task.CompanyID:
			return apperrors.NewFatal(apperrors.ErrUnauthorized, "instance %s belongs to another tenant", instanceName)
		case err == nil:
			token = inst.Token
		case errors.Is(err, apperrors.ErrNotFound):
			log.Warn("Instance gone, fetching media without token", zap.String("instance_name", instanceName))
		default:
			return handleRepositoryError(ctx, err, "FindInstance", instanceName)
		}
	}

	res, err := s.relayer.Relay(ctx, media.Request{
		CompanyID:      task.CompanyID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SourceURL:      sourceURL,
		MimeHint:       firstNonBlank(task.MimeType, msg.MediaMimeType),
		Token:          token,
		Origin:         model.RelayOriginWorker,
	})
	if err != nil {
		return err
	}

	if err := s.messages.UpdateMedia(ctx, msg.ID, res.URL, res.MimeType, model.MediaStatusRelayed); err != nil {
		return handleRepositoryError(ctx, err, "UpdateMessageMedia", msg.ID)
	}
	log.Info("Media relayed out of band", zap.String("key", res.Key))
	return nil
}

// ExhaustRelay records a task that will not be retried again and marks the
// message's media as failed, leaving the provider URL in place.
func (s *PipelineService) ExhaustRelay(ctx context.Context, task model.RelayTask, subject string, attempts int, lastErr error) error {
	ctx = tenant.WithCompanyID(ctx, task.CompanyID)
	log := logger.FromContext(ctx).With(zap.String("message_id", task.MessageID))

	payload, err := json.Marshal(task)
	if err != nil {
		return apperrors.NewFatal(err, "marshal exhausted relay task")
	}
	lastError := ""
	if lastErr != nil {
		lastError = lastErr.Error()
	}
	if err := s.exhausted.Save(ctx, model.ExhaustedRelayTask{
		CompanyID:  task.CompanyID,
		MessageID:  task.MessageID,
		Subject:    subject,
		LastError:  lastError,
		Attempts:   attempts,
		EnqueuedAt: task.EnqueuedAt,
		Payload:    payload,
	}); err != nil {
		return handleRepositoryError(ctx, err, "SaveExhaustedRelayTask", task.MessageID)
	}

	if err := s.messages.UpdateMedia(ctx, task.MessageID, task.SourceURL, "", model.MediaStatusFailed); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("mark media failed: %w", err)
		}
		log.Warn("Exhausted relay task for a missing message")
	}
	log.Warn("Media relay exhausted", zap.Int("attempts", attempts), zap.String("last_error", lastError))
	return nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
