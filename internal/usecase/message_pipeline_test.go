package usecase

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
)

const testInstance = "inst-1"

func testChannelInstance() *model.ChannelInstance {
	return &model.ChannelInstance{ID: "ci-1", InstanceName: testInstance, CompanyID: "c1", OwnerPhone: "5511900000000", Token: "tok-1"}
}

func newWebhook(mediaURL string) (*model.MessageWebhook, string) {
	ev := model.NewMessageWebhook(testInstance, mediaURL)
	ev.Owner = "5511900000001"
	return ev, strings.TrimSuffix(ev.Message.ChatID, "@s.whatsapp.net")
}

func webhookBody(t *testing.T, ev *model.MessageWebhook) []byte {
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

// expectIdentity wires the tenant, dedup miss and contact/conversation upserts.
func expectIdentity(m *serviceMocks, ev *model.MessageWebhook, phoneNumber string) {
	m.tenants.On("FindInstanceByName", mock.Anything, testInstance).Return(testChannelInstance(), nil)
	m.messages.On("FindByProviderMessageID", mock.Anything, ev.Message.ID).Return(nil, apperrors.ErrNotFound).Once()
	m.contacts.On("Upsert", mock.Anything, mock.MatchedBy(func(c model.Contact) bool {
		return c.PhoneNumber == phoneNumber && c.Name == ev.Chat.Name && c.Source == "whatsapp"
	})).Return(&model.Contact{ID: "ct-1", PhoneNumber: phoneNumber, Name: ev.Chat.Name}, nil).Once()
	m.conversations.On("Upsert", mock.Anything, mock.MatchedBy(func(c model.Conversation) bool {
		return c.PhoneNumber == phoneNumber && c.ContactID == "ct-1" && c.ContactName != nil && *c.ContactName == ev.Chat.Name
	})).Return(&model.Conversation{ID: "cv-1", PhoneNumber: phoneNumber}, nil).Once()
}

func TestHandleMessageWebhook_TextInbound(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{LeadsFromMessages: true})
	ev, phoneNumber := newWebhook("")
	expectIdentity(m, ev, phoneNumber)

	m.messages.On("InsertIfAbsent", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.ConversationID == "cv-1" &&
			msg.ProviderMessageID == ev.Message.ID &&
			msg.InstanceName == testInstance &&
			msg.Direction == model.DirectionInbound &&
			msg.Origin == model.OriginDevice &&
			msg.Type == model.MessageTypeText &&
			msg.Content == ev.Message.Text &&
			msg.MediaStatus == model.MediaStatusNone &&
			msg.DeliveryStatus == model.DeliveryStatusReceived &&
			len(msg.RawPayload) > 0
	})).Return(true, nil).Once()
	m.attribution.On("SubmitTask", mock.MatchedBy(func(task AttributionTask) bool {
		return task.Source == AttributionSourceMessage && task.CompanyID == "c1" && task.Phone == phoneNumber && task.ContactName == ev.Chat.Name
	})).Return(nil).Once()

	res, err := svc.HandleMessageWebhook(tenantCtx(t, ""), webhookBody(t, ev))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.MessageID)
	m.assertAll(t)
	m.relayer.AssertNotCalled(t, "Relay", mock.Anything, mock.Anything)
}

func TestHandleMessageWebhook_ReplayIsIdempotent(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{})
	ev, phoneNumber := newWebhook("")
	expectIdentity(m, ev, phoneNumber)

	var stored *model.Message
	m.messages.On("InsertIfAbsent", mock.Anything, mock.AnythingOfType("*model.Message")).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*model.Message)
		stored.CompanyID = "c1"
	}).Return(true, nil).Once()

	body := webhookBody(t, ev)
	first, err := svc.HandleMessageWebhook(tenantCtx(t, ""), body)
	require.NoError(t, err)
	require.True(t, first.Success)

	m.messages.On("FindByProviderMessageID", mock.Anything, ev.Message.ID).Return(stored, nil).Once()
	second, err := svc.HandleMessageWebhook(tenantCtx(t, ""), body)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	assert.True(t, second.Success)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, NoteDuplicateIgnored, second.Note)

	m.messages.AssertNumberOfCalls(t, "InsertIfAbsent", 1)
	m.contacts.AssertNumberOfCalls(t, "Upsert", 1)
}

func TestHandleMessageWebhook_LostInsertRace(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{})
	ev, phoneNumber := newWebhook("")
	expectIdentity(m, ev, phoneNumber)

	m.messages.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(false, nil).Once()
	m.messages.On("FindByProviderMessageID", mock.Anything, ev.Message.ID).
		Return(&model.Message{ID: "winner", CompanyID: "c1", ProviderMessageID: ev.Message.ID}, nil).Once()

	res, err := svc.HandleMessageWebhook(tenantCtx(t, ""), webhookBody(t, ev))
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	assert.Equal(t, "duplicate", apperrors.Category(err))
	assert.True(t, res.Success)
	assert.Equal(t, "winner", res.MessageID)
}

func TestHandleMessageWebhook_CrossTenantDuplicate(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{})
	ev, _ := newWebhook("")
	ctx, logs := observedContext(zapcore.WarnLevel)

	m.tenants.On("FindInstanceByName", mock.Anything, testInstance).Return(testChannelInstance(), nil).Once()
	m.messages.On("FindByProviderMessageID", mock.Anything, ev.Message.ID).
		Return(&model.Message{ID: "theirs", CompanyID: "c2", ProviderMessageID: ev.Message.ID}, nil).Once()

	res, err := svc.HandleMessageWebhook(ctx, webhookBody(t, ev))
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	assert.True(t, res.Success)
	assert.Equal(t, 1, logs.FilterMessage("Provider message id already stored for another tenant").Len())
	m.contacts.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestHandleMessageWebhook_MediaFetchFailureKeepsOriginalURL(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{})
	src := "https://cdn.provider.example/media/abc.jpg"
	ev, phoneNumber := newWebhook(src)
	expectIdentity(m, ev, phoneNumber)

	m.messages.On("InsertIfAbsent", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.MediaURL == src && msg.Type == model.MessageTypeImage && msg.MediaStatus == model.MediaStatusPending
	})).Return(true, nil).Once()
	m.relayer.On("Relay", mock.Anything, mock.MatchedBy(func(req media.Request) bool {
		return req.SourceURL == src && req.Token == "tok-1" && req.CompanyID == "c1" && req.ConversationID == "cv-1" && req.Origin == model.RelayOriginRequest
	})).Return(media.Result{URL: src}, apperrors.NewRetryable(errors.New("connection refused"), "fetch media")).Once()
	m.messages.On("UpdateMedia", mock.Anything, mock.AnythingOfType("string"), src, "", model.MediaStatusOriginal).Return(nil).Once()
	m.publisher.On("PublishRelayTask", mock.Anything, mock.MatchedBy(func(task model.RelayTask) bool {
		return task.SourceURL == src && task.CompanyID == "c1" && task.InstanceName == testInstance && task.MediaType == model.MessageTypeImage
	})).Return(nil).Once()

	res, err := svc.HandleMessageWebhook(tenantCtx(t, ""), webhookBody(t, ev))
	require.NoError(t, err)
	assert.True(t, res.Success)
	m.assertAll(t)
}

func TestHandleMessageWebhook_MediaRelayed(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{})
	src := "https://cdn.provider.example/media/abc"
	ev, phoneNumber := newWebhook(src)
	expectIdentity(m, ev, phoneNumber)

	relayed := "https://media.example.com/c1/cv-1/m.jpg"
	m.messages.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil).Once()
	m.relayer.On("Relay", mock.Anything, mock.Anything).Return(media.Result{URL: relayed, MimeType: "image/jpeg", Relayed: true}, nil).Once()
	m.messages.On("UpdateMedia", mock.Anything, mock.AnythingOfType("string"), relayed, "image/jpeg", model.MediaStatusRelayed).Return(nil).Once()

	res, err := svc.HandleMessageWebhook(tenantCtx(t, ""), webhookBody(t, ev))
	require.NoError(t, err)
	assert.True(t, res.Success)
	m.publisher.AssertNotCalled(t, "PublishRelayTask", mock.Anything, mock.Anything)
}

func TestHandleMessageWebhook_MediaGoneIsNotRequeued(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{})
	src := "https://cdn.provider.example/media/expired.jpg"
	ev, phoneNumber := newWebhook(src)
	expectIdentity(m, ev, phoneNumber)

	m.messages.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil).Once()
	m.relayer.On("Relay", mock.Anything, mock.Anything).
		Return(media.Result{URL: src}, apperrors.NewFatal(apperrors.ErrMediaUnavailable, "status 404")).Once()
	m.messages.On("UpdateMedia", mock.Anything, mock.Anything, src, "", model.MediaStatusFailed).Return(errors.New("db blip")).Once()

	res, err := svc.HandleMessageWebhook(tenantCtx(t, ""), webhookBody(t, ev))
	require.NoError(t, err)
	assert.True(t, res.Success)
	m.publisher.AssertNotCalled(t, "PublishRelayTask", mock.Anything, mock.Anything)
}

func TestHandleMessageWebhook_Rejections(t *testing.T) {
	testCases := []struct {
		name        string
		prepare     func(ev *model.MessageWebhook, m *serviceMocks)
		body        []byte
		wantErr     error
		wantSuccess bool
		wantError   string
		wantNote    string
	}{
		{
			name:    "malformed body",
			body:    []byte(`{"foo":1}`),
			wantErr: apperrors.ErrMalformedPayload,
		},
		{
			name: "group chat",
			prepare: func(ev *model.MessageWebhook, m *serviceMocks) {
				ev.Message.IsGroup = true
			},
			wantErr:     apperrors.ErrFiltered,
			wantSuccess: true,
			wantNote:    "message filtered: group chat",
		},
		{
			name: "unsupported type",
			prepare: func(ev *model.MessageWebhook, m *serviceMocks) {
				ev.Message.MessageType = "reactionMessage"
			},
			wantErr: apperrors.ErrUnsupportedMessageType,
		},
		{
			name: "unknown instance",
			prepare: func(ev *model.MessageWebhook, m *serviceMocks) {
				m.tenants.On("FindInstanceByName", mock.Anything, testInstance).Return(nil, apperrors.ErrNotFound).Once()
			},
			wantErr:   apperrors.ErrUnauthorized,
			wantError: MsgUnknownInstance,
		},
		{
			name: "invalid phone",
			prepare: func(ev *model.MessageWebhook, m *serviceMocks) {
				ev.Message.ChatID = "12345@s.whatsapp.net"
				m.tenants.On("FindInstanceByName", mock.Anything, testInstance).Return(testChannelInstance(), nil).Once()
			},
			wantErr: apperrors.ErrInvalidPhoneNumber,
		},
		{
			name: "self-sent loop",
			prepare: func(ev *model.MessageWebhook, m *serviceMocks) {
				ev.Message.ChatID = "+55 11 90000-0000@s.whatsapp.net"
				ev.Owner = ""
				m.tenants.On("FindInstanceByName", mock.Anything, testInstance).Return(testChannelInstance(), nil).Once()
			},
			wantErr:     apperrors.ErrFiltered,
			wantSuccess: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, m := setupPipelineService(t, config.AttributionConfig{})
			ev, _ := newWebhook("")
			if tc.prepare != nil {
				tc.prepare(ev, m)
			}
			body := tc.body
			if body == nil {
				body = webhookBody(t, ev)
			}

			res, err := svc.HandleMessageWebhook(tenantCtx(t, ""), body)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.wantSuccess, res.Success)
			if tc.wantError != "" {
				assert.Equal(t, tc.wantError, res.Error)
			}
			if tc.wantNote != "" {
				assert.Equal(t, tc.wantNote, res.Note)
			}
			m.contacts.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
			m.messages.AssertNotCalled(t, "InsertIfAbsent", mock.Anything, mock.Anything)
		})
	}
}

func TestHandleMessageWebhook_InsertFailure(t *testing.T) {
	svc, m := setupPipelineService(t, config.AttributionConfig{LeadsFromMessages: true})
	ev, phoneNumber := newWebhook("")
	expectIdentity(m, ev, phoneNumber)

	m.messages.On("InsertIfAbsent", mock.Anything, mock.Anything).
		Return(false, errors.Join(apperrors.ErrDatabase, errors.New("connection reset"))).Once()

	res, err := svc.HandleMessageWebhook(tenantCtx(t, ""), webhookBody(t, ev))
	assert.False(t, res.Success)
	assert.Equal(t, "failed to persist message", res.Error)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, "database", apperrors.Category(err))
	m.attribution.AssertNotCalled(t, "SubmitTask", mock.Anything)
}
