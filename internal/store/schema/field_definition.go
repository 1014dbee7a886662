package schema

import (
	"time"

	"github.com/salespulse/sp-ingest/internal/domain"
)

// FieldDefinition represents the dataset_fields table - declares how to pull
// one named field out of a delivery payload.
type FieldDefinition struct {
	// ID is the field identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// DatasetID is the owning dataset
	DatasetID string `gorm:"column:dataset_id;not null;uniqueIndex:idx_dataset_fields_slug;type:varchar(36)"`
	// Slug is the field key, unique within the dataset
	Slug string `gorm:"column:slug;not null;uniqueIndex:idx_dataset_fields_slug;type:varchar(100)"`
	// Label is the operator-facing display name
	Label string `gorm:"column:label;type:varchar(255)"`
	// FieldType is the declared semantic type: string, number, boolean, date
	FieldType domain.FieldType `gorm:"column:field_type;not null;default:string;type:varchar(20)"`
	// Source is mapped or manual; only mapped fields participate in extraction
	Source domain.FieldSource `gorm:"column:source;not null;default:mapped;type:varchar(20)"`
	// SourcePath is the dot/bracket JSON path into the raw payload
	SourcePath string `gorm:"column:source_path;type:text"`
	// SortOrder controls display ordering in the dashboard
	SortOrder int       `gorm:"column:sort_order;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the FieldDefinition model
func (FieldDefinition) TableName() string {
	return "dataset_fields"
}
