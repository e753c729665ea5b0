package model

import "time"

// Company is the tenant. Every other entity carries its ID.
type Company struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Name      string    `json:"name" gorm:"type:text"`
	APIKey    string    `json:"-" gorm:"column:api_key;uniqueIndex;type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Company model.
func (Company) TableName() string {
	return "companies"
}

// ChannelInstance maps a messaging provider instance to the tenant that owns it.
type ChannelInstance struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	InstanceName string    `json:"instance_name" gorm:"column:instance_name;uniqueIndex;type:text;not null"`
	CompanyID    string    `json:"company_id" gorm:"column:company_id;index;type:text;not null"`
	OwnerPhone   string    `json:"owner_phone,omitempty" gorm:"column:owner_phone;type:text"`
	Token        string    `json:"-" gorm:"type:text"` // sent on outbound media fetches
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ChannelInstance) TableName() string {
	return "channel_instances"
}
