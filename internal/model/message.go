package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	OriginDevice = "device"
	OriginPanel  = "panel"
	OriginAPI    = "api"

	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeDocument = "document"

	DeliveryStatusReceived = "received"
	DeliveryStatusSent     = "sent"
)

// MediaStatus tracks where a message's media reference points.
type MediaStatus string

const (
	MediaStatusNone     MediaStatus = "none"     // text message
	MediaStatusPending  MediaStatus = "pending"  // stored with the provider URL, relay not attempted yet
	MediaStatusRelayed  MediaStatus = "relayed"  // media_url points at durable storage
	MediaStatusOriginal MediaStatus = "original" // relay failed, media_url is still the provider URL
	MediaStatusFailed   MediaStatus = "failed"   // out-of-band retries exhausted, provider URL kept
)

// Message is immutable after insert except for MediaURL/MediaStatus.
type Message struct {
	ID                string         `json:"id" gorm:"primaryKey;type:text"`
	CompanyID         string         `json:"company_id" gorm:"column:company_id;index;type:text;not null"`
	ConversationID    string         `json:"conversation_id" gorm:"column:conversation_id;index;type:text;not null"`
	ProviderMessageID string         `json:"provider_message_id" gorm:"column:provider_message_id;uniqueIndex;type:text;not null"`
	InstanceName      string         `json:"instance_name,omitempty" gorm:"column:instance_name;type:text"`
	Direction         string         `json:"direction" gorm:"type:text"`
	Origin            string         `json:"origin" gorm:"type:text"`
	Type              string         `json:"type" gorm:"column:type;type:text"`
	Content           string         `json:"content,omitempty" gorm:"type:text"`
	MediaURL          string         `json:"media_url,omitempty" gorm:"column:media_url;type:text"`
	MediaMimeType     string         `json:"media_mime_type,omitempty" gorm:"column:media_mime_type;type:text"`
	MediaStatus       MediaStatus    `json:"media_status" gorm:"column:media_status;type:text;index"`
	DeliveryStatus    string         `json:"delivery_status" gorm:"column:delivery_status;type:text"`
	Timestamp         time.Time      `json:"timestamp" gorm:"column:timestamp"`
	RawPayload        datatypes.JSON `json:"raw_payload,omitempty" gorm:"type:jsonb;column:raw_payload"`
	CreatedAt         time.Time      `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}

// IsMedia reports whether the message carries a media reference.
func (m *Message) IsMedia() bool {
	return m.Type != MessageTypeText && m.MediaURL != ""
}
