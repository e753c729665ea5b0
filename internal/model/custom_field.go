package model

import "time"

// CustomFieldDefinition is unique per (company_id, field_name) and, when set,
// per (company_id, numeric_id).
type CustomFieldDefinition struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	CompanyID string    `json:"company_id" gorm:"column:company_id;type:text;not null;uniqueIndex:idx_cfd_company_name,priority:1;uniqueIndex:idx_cfd_company_numeric,priority:1"`
	FieldName string    `json:"field_name" gorm:"column:field_name;type:text;not null;uniqueIndex:idx_cfd_company_name,priority:2"`
	NumericID *int64    `json:"numeric_id,omitempty" gorm:"column:numeric_id;uniqueIndex:idx_cfd_company_numeric,priority:2"`
	Label     string    `json:"label" gorm:"type:text"`
	FieldType FieldType `json:"field_type" gorm:"column:field_type;type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the CustomFieldDefinition model.
func (CustomFieldDefinition) TableName() string {
	return "custom_field_definitions"
}

// CustomFieldValue holds a lead's value for one definition, always string-encoded.
type CustomFieldValue struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	CompanyID string    `json:"company_id" gorm:"column:company_id;index;type:text;not null"`
	LeadID    string    `json:"lead_id" gorm:"column:lead_id;type:text;not null;uniqueIndex:idx_cfv_lead_field,priority:1"`
	FieldID   string    `json:"field_id" gorm:"column:field_id;type:text;not null;uniqueIndex:idx_cfv_lead_field,priority:2"`
	Value     string    `json:"value" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (CustomFieldValue) TableName() string {
	return "custom_field_values"
}
