package schema

import "time"

// Dataset represents the datasets table - a logical collection of records
// sharing a field schema. Managed by dashboard administrators; read-only to
// the ingestion pipeline.
type Dataset struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	OrganizationID string    `gorm:"column:organization_id;not null;index;type:varchar(36)"`
	Name           string    `gorm:"column:name;not null;type:varchar(255)"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Dataset model
func (Dataset) TableName() string {
	return "datasets"
}
