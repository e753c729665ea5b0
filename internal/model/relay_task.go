package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RelayOriginRequest = "request"
	RelayOriginSweeper = "sweeper"
	RelayOriginWorker  = "worker"
)

// RelayTask asks the relay worker to move a message's media into durable storage.
// It travels as JSON on the relay subject.
type RelayTask struct {
	TaskID            string    `json:"task_id" validate:"required"`
	CompanyID         string    `json:"company_id" validate:"required"`
	MessageID         string    `json:"message_id" validate:"required"`
	ConversationID    string    `json:"conversation_id" validate:"required"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	InstanceName      string    `json:"instance_name,omitempty"`
	SourceURL         string    `json:"source_url" validate:"required,url"`
	MediaType         string    `json:"media_type" validate:"required"`
	MimeType          string    `json:"mime_type,omitempty"`
	Origin            string    `json:"origin,omitempty" validate:"omitempty,oneof=request sweeper"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
}

// ExhaustedRelayTask is a relay task that used up its delivery attempts.
type ExhaustedRelayTask struct {
	ID         uint           `gorm:"primaryKey"`
	CreatedAt  time.Time      // Automatically set by GORM
	CompanyID  string         `gorm:"not null;index"`
	MessageID  string         `gorm:"index;not null"`
	Subject    string         `gorm:"not null"`
	LastError  string         // The last error message encountered
	Attempts   int            // Delivery count when the task was given up
	EnqueuedAt time.Time      `gorm:"index"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
	Resolved   bool           `gorm:"index"`
	ResolvedAt *time.Time     `gorm:"index"`
	Notes      string         `gorm:"type:text"`
}

// TableName specifies the table name for the ExhaustedRelayTask model.
func (ExhaustedRelayTask) TableName() string {
	return "exhausted_relay_tasks"
}
