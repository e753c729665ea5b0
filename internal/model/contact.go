package model

import (
	"time"
)

// Contact is a phone-identified counterpart, unique per (company_id, phone_number).
type Contact struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	CompanyID   string    `json:"company_id" gorm:"column:company_id;type:text;not null;uniqueIndex:idx_contacts_company_phone,priority:1"`
	PhoneNumber string    `json:"phone_number" gorm:"column:phone_number;type:text;not null;uniqueIndex:idx_contacts_company_phone,priority:2" validate:"required"`
	Name        string    `json:"name,omitempty" gorm:"type:text"`
	AvatarURL   string    `json:"avatar_url,omitempty" gorm:"column:avatar_url;type:text"`
	Source      string    `json:"source,omitempty" gorm:"type:text"` // acquisition channel, e.g. whatsapp
	CreatedAt   time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Contact model.
func (Contact) TableName() string {
	return "contacts"
}

// Conversation is the single ongoing thread with a contact.
type Conversation struct {
	ID            string    `json:"id" gorm:"primaryKey;type:text"`
	CompanyID     string    `json:"company_id" gorm:"column:company_id;type:text;not null;uniqueIndex:idx_conversations_company_phone,priority:1"`
	PhoneNumber   string    `json:"phone_number" gorm:"column:phone_number;type:text;not null;uniqueIndex:idx_conversations_company_phone,priority:2"`
	ContactID     string    `json:"contact_id" gorm:"column:contact_id;index;type:text"`
	ContactName   *string   `json:"contact_name,omitempty" gorm:"column:contact_name;type:text"` // user-editable, only back-filled while NULL
	Status        string    `json:"status" gorm:"type:text"`
	LastMessageAt time.Time `json:"last_message_at" gorm:"column:last_message_at"`
	CreatedAt     time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

func (Conversation) TableName() string {
	return "conversations"
}

const (
	ConversationStatusOpen = "open"
)
