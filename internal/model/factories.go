package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

// RandomJSONBMap generates JSON data from a map for testing.
func RandomJSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakePhone returns a Brazilian mobile number in digits-only form (55 + area + 9 digits).
func FakePhone() string {
	return fmt.Sprintf("55%02d9%08d", gofakeit.Number(11, 99), gofakeit.Number(0, 99999999))
}

// NewCompany creates a Company with fake data.
func NewCompany(overrideDefaults ...*Company) *Company {
	base := &Company{
		ID:        gofakeit.UUID(),
		Name:      gofakeit.Company(),
		APIKey:    gofakeit.LetterN(32),
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(24, 1000)) * time.Hour),
		UpdatedAt: utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.APIKey != "" {
			base.APIKey = ovr.APIKey
		}
	}
	return base
}

// NewChannelInstance creates a ChannelInstance with fake data.
func NewChannelInstance(overrideDefaults ...*ChannelInstance) *ChannelInstance {
	base := &ChannelInstance{
		ID:           gofakeit.UUID(),
		InstanceName: "inst-" + gofakeit.LetterN(8),
		CompanyID:    gofakeit.UUID(),
		OwnerPhone:   FakePhone(),
		Token:        gofakeit.UUID(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.InstanceName != "" {
			base.InstanceName = ovr.InstanceName
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		// owner and token may be intentionally blank
		base.OwnerPhone = ovr.OwnerPhone
		base.Token = ovr.Token
	}
	return base
}

// NewContact creates a Contact with fake data.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:          gofakeit.UUID(),
		CompanyID:   gofakeit.UUID(),
		PhoneNumber: FakePhone(),
		Name:        gofakeit.Name(),
		AvatarURL:   gofakeit.URL(),
		Source:      LeadOriginWhatsApp,
		CreatedAt:   utils.Now().Add(-time.Hour),
		UpdatedAt:   utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		base.Name = ovr.Name
		base.AvatarURL = ovr.AvatarURL
	}
	return base
}

// NewMessage creates a text Message with fake data.
func NewMessage(overrideDefaults ...*Message) *Message {
	base := &Message{
		ID:                gofakeit.UUID(),
		CompanyID:         gofakeit.UUID(),
		ConversationID:    gofakeit.UUID(),
		ProviderMessageID: gofakeit.LetterN(20),
		Direction:         DirectionInbound,
		Origin:            OriginDevice,
		Type:              MessageTypeText,
		Content:           gofakeit.Sentence(6),
		MediaStatus:       MediaStatusNone,
		DeliveryStatus:    DeliveryStatusReceived,
		Timestamp:         utils.Now().Add(-time.Duration(gofakeit.Number(1, 600)) * time.Second),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.ProviderMessageID != "" {
			base.ProviderMessageID = ovr.ProviderMessageID
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.MediaURL != "" {
			base.MediaURL = ovr.MediaURL
		}
		if ovr.MediaStatus != "" {
			base.MediaStatus = ovr.MediaStatus
		}
		if !ovr.Timestamp.IsZero() {
			base.Timestamp = ovr.Timestamp
		}
	}
	return base
}

// NewLead creates a Lead with fake data.
func NewLead(overrideDefaults ...*Lead) *Lead {
	base := &Lead{
		ID:        gofakeit.UUID(),
		CompanyID: gofakeit.UUID(),
		Name:      gofakeit.Name(),
		Email:     gofakeit.Email(),
		Phone:     FakePhone(),
		Origin:    LeadOriginFormWebhook,
		Status:    LeadStatusNew,
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		base.Name = ovr.Name
		base.Email = ovr.Email
		base.Phone = ovr.Phone
		base.VisitorID = ovr.VisitorID
	}
	return base
}

// NewVisitor creates a Visitor created `age` ago.
func NewVisitor(companyID string, age time.Duration) *Visitor {
	vid := "v_" + gofakeit.LetterN(12)
	return &Visitor{
		ID:         gofakeit.UUID(),
		CompanyID:  companyID,
		VisitorID:  &vid,
		DeviceType: gofakeit.RandomString([]string{"desktop", "mobile", "tablet"}),
		Referrer:   gofakeit.RandomString([]string{"", "direct", "https://google.com"}),
		CreatedAt:  utils.Now().Add(-age),
	}
}

// NewRelayTask creates a RelayTask with fake data.
func NewRelayTask(overrideDefaults ...*RelayTask) *RelayTask {
	base := &RelayTask{
		TaskID:            gofakeit.UUID(),
		CompanyID:         gofakeit.UUID(),
		MessageID:         gofakeit.UUID(),
		ConversationID:    gofakeit.UUID(),
		ProviderMessageID: gofakeit.LetterN(20),
		InstanceName:      "inst-" + gofakeit.LetterN(8),
		SourceURL:         gofakeit.URL() + "/media.jpg",
		MediaType:         MessageTypeImage,
		MimeType:          "image/jpeg",
		Origin:            RelayOriginRequest,
		EnqueuedAt:        utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.MessageID != "" {
			base.MessageID = ovr.MessageID
		}
		if ovr.SourceURL != "" {
			base.SourceURL = ovr.SourceURL
		}
		if ovr.MediaType != "" {
			base.MediaType = ovr.MediaType
		}
		if ovr.Origin != "" {
			base.Origin = ovr.Origin
		}
	}
	return base
}

// NewMessageWebhook builds a fake inbound provider event. A non-empty mediaURL makes it an image message.
func NewMessageWebhook(instanceName, mediaURL string) *MessageWebhook {
	phone := FakePhone()
	msg := &WebhookMessage{
		ID:               gofakeit.LetterN(20),
		ChatID:           phone + "@s.whatsapp.net",
		Sender:           phone + "@s.whatsapp.net",
		SenderName:       gofakeit.Name(),
		MessageType:      "conversation",
		Text:             gofakeit.Sentence(8),
		MessageTimestamp: utils.Now().UnixMilli(),
	}
	if mediaURL != "" {
		msg.MessageType = "imageMessage"
		msg.MediaType = "image"
		msg.Text = ""
		msg.Content, _ = json.Marshal(MediaContent{URL: mediaURL, Mimetype: "image/jpeg", Caption: gofakeit.Sentence(3)})
	}
	return &MessageWebhook{
		EventType:    "messages",
		Message:      msg,
		Chat:         &WebhookChat{Name: msg.SenderName, ImagePreview: gofakeit.URL()},
		InstanceName: instanceName,
		Owner:        FakePhone(),
	}
}
