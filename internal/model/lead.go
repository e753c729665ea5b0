package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	LeadStatusNew = "new"

	LeadOriginFormWebhook = "form_webhook"
	LeadOriginWhatsApp    = "whatsapp"
)

// Lead is a sales-pipeline record. Uniqueness per tenant is by phone variants and
// is enforced in the repository, soft-deleted rows excluded.
type Lead struct {
	ID              string         `json:"id" gorm:"primaryKey;type:text"`
	CompanyID       string         `json:"company_id" gorm:"column:company_id;index;type:text;not null"`
	Name            string         `json:"name,omitempty" gorm:"type:text"`
	Email           string         `json:"email,omitempty" gorm:"type:text;index"`
	Phone           string         `json:"phone,omitempty" gorm:"type:text;index"`
	Interest        string         `json:"interest,omitempty" gorm:"type:text"`
	Origin          string         `json:"origin,omitempty" gorm:"type:text"`
	Status          string         `json:"status,omitempty" gorm:"type:text"`
	VisitorID       *string        `json:"visitor_id,omitempty" gorm:"column:visitor_id;type:text;index"`
	EngagementScore *int           `json:"engagement_score,omitempty" gorm:"column:engagement_score"`
	SessionDuration *int           `json:"session_duration,omitempty" gorm:"column:session_duration"` // seconds
	CompanyName     string         `json:"company_name,omitempty" gorm:"column:company_name;type:text"`
	CompanyRole     string         `json:"company_role,omitempty" gorm:"column:company_role;type:text"`
	CompanySize     string         `json:"company_size,omitempty" gorm:"column:company_size;type:text"`
	CompanySegment  string         `json:"company_segment,omitempty" gorm:"column:company_segment;type:text"`
	RawPayload      datatypes.JSON `json:"raw_payload,omitempty" gorm:"type:jsonb;column:raw_payload"`
	CreatedAt       time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for the Lead model.
func (Lead) TableName() string {
	return "leads"
}

// Visitor is a tracked web session. Written by the tracking subsystem, read-only here.
type Visitor struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text"`
	CompanyID  string    `json:"company_id" gorm:"column:company_id;index:idx_visitors_company_created,priority:1;type:text;not null"`
	VisitorID  *string   `json:"visitor_id,omitempty" gorm:"column:visitor_id;index;type:text"` // client-generated
	DeviceType string    `json:"device_type,omitempty" gorm:"column:device_type;type:text"`
	Referrer   string    `json:"referrer,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index:idx_visitors_company_created,priority:2"`
}

func (Visitor) TableName() string {
	return "visitors"
}

// Conversion records the correlation of a lead to a visitor, once per visitor.
type Conversion struct {
	ID              string    `json:"id" gorm:"primaryKey;type:text"`
	CompanyID       string    `json:"company_id" gorm:"column:company_id;type:text;not null;uniqueIndex:idx_conversions_company_visitor,priority:1"`
	VisitorID       string    `json:"visitor_id" gorm:"column:visitor_id;type:text;not null;uniqueIndex:idx_conversions_company_visitor,priority:2"`
	LeadID          string    `json:"lead_id" gorm:"column:lead_id;index;type:text;not null"`
	SessionDuration int       `json:"session_duration" gorm:"column:session_duration"`
	EngagementScore int       `json:"engagement_score" gorm:"column:engagement_score"`
	DeviceType      string    `json:"device_type,omitempty" gorm:"column:device_type;type:text"`
	Referrer        string    `json:"referrer,omitempty" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Conversion) TableName() string {
	return "conversions"
}
