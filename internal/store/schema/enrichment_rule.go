package schema

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/salespulse/sp-ingest/internal/domain"
)

// EnrichmentRule represents the enrichment_rules table - a configured
// instruction to resolve, update, or create a row in another table from
// extracted fields. Authored by administrators; consumed read-only per
// delivery.
type EnrichmentRule struct {
	// ID is the rule identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// DatasetID is the owning dataset
	DatasetID string `gorm:"column:dataset_id;not null;index;type:varchar(36)"`
	// TargetTable is the table the rule resolves rows in; must be on the
	// configured allow-list
	TargetTable string `gorm:"column:target_table;not null;type:varchar(63)"`
	// MatchField is the extracted-field slug whose value is matched
	MatchField string `gorm:"column:match_field;not null;type:varchar(100)"`
	// TargetColumn is the target-table column matched against
	TargetColumn string `gorm:"column:target_column;not null;type:varchar(63)"`
	// Mappings is a JSON array of {source_field, target_column} pairs applied
	// on both the update-on-match and create-on-miss paths
	Mappings datatypes.JSON `gorm:"column:mappings;type:jsonb"`
	// AutoCreate creates a missing target row instead of skipping
	AutoCreate bool `gorm:"column:auto_create;not null;default:false"`
	// IsActive indicates whether the rule participates in enrichment
	IsActive bool `gorm:"column:is_active;not null;default:true"`
	// SortOrder fixes rule evaluation and reporting order
	SortOrder int       `gorm:"column:sort_order;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the EnrichmentRule model
func (EnrichmentRule) TableName() string {
	return "enrichment_rules"
}

// FieldMappings decodes the rule's mappings column. A missing or empty column
// yields an empty slice.
func (r *EnrichmentRule) FieldMappings() ([]domain.FieldMapping, error) {
	if len(r.Mappings) == 0 {
		return nil, nil
	}

	var mappings []domain.FieldMapping
	if err := json.Unmarshal(r.Mappings, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}
