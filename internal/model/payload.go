package model

import (
	"encoding/json"
)

// --- Messaging provider webhook --- //

// MessageWebhook is the flat canonical shape of a messaging provider event.
// Field matching on decode is case-insensitive, so "URL" and "url" land on the same field.
type MessageWebhook struct {
	EventType    string          `json:"EventType" validate:"required"`
	Message      *WebhookMessage `json:"message" validate:"required"`
	Chat         *WebhookChat    `json:"chat,omitempty"`
	InstanceName string          `json:"instanceName" validate:"required,instance_name"`
	Owner        string          `json:"owner,omitempty"`
}

// WebhookMessage is the message part of a provider event.
type WebhookMessage struct {
	ID               string          `json:"id" validate:"required_without=MessageID"`
	MessageID        string          `json:"messageid,omitempty"`
	ChatID           string          `json:"chatid,omitempty"`
	Sender           string          `json:"sender,omitempty"`
	SenderName       string          `json:"senderName,omitempty"`
	FromMe           bool            `json:"fromMe"`
	WasSentByAPI     bool            `json:"wasSentByApi"`
	DeviceSent       *bool           `json:"deviceSent,omitempty"`
	IsGroup          bool            `json:"isGroup"`
	MessageType      string          `json:"messageType,omitempty"`
	Type             string          `json:"type,omitempty"`
	MediaType        string          `json:"mediaType,omitempty"`
	Text             string          `json:"text,omitempty"`
	Content          json.RawMessage `json:"content,omitempty"` // string or MediaContent
	MessageTimestamp int64           `json:"messageTimestamp,omitempty"`
}

// ProviderID returns the provider message id, whichever key carried it.
func (m *WebhookMessage) ProviderID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.MessageID
}

// WebhookChat carries counterpart display data.
type WebhookChat struct {
	Name         string `json:"name,omitempty"`
	ImagePreview string `json:"imagePreview,omitempty"`
}

// MediaContent is the object form of message.content.
type MediaContent struct {
	URL      string `json:"url,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// --- Pipeline results --- //

// WebhookResult is the response body of the messaging webhook.
type WebhookResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Note      string `json:"note,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FormResult is the response body of the form webhook.
type FormResult struct {
	Success bool   `json:"success"`
	LeadID  string `json:"lead_id,omitempty"`
	Error   string `json:"error,omitempty"`
}
