package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/salespulse/sp-ingest/internal/domain"
)

// DatasetRecord represents the dataset_records table - the canonical,
// deduplicated outcome of one logical delivery.
//
// PayloadHash is the idempotency key: at most one record may exist per
// (dataset_id, connection_id, payload_hash) triple. The hash is nullable so
// forced re-ingestion can insert without tripping the uniqueness constraint;
// Postgres treats NULLs as distinct in unique indexes.
type DatasetRecord struct {
	// ID is the record identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// DatasetID is the owning dataset
	DatasetID string `gorm:"column:dataset_id;not null;uniqueIndex:idx_dataset_records_hash;type:varchar(36)"`
	// ConnectionID is the connection that delivered this record
	ConnectionID string `gorm:"column:connection_id;not null;uniqueIndex:idx_dataset_records_hash;type:varchar(36)"`
	// PayloadHash is the SHA-256 of the canonicalized payload, NULL under force
	PayloadHash *string `gorm:"column:payload_hash;uniqueIndex:idx_dataset_records_hash;type:varchar(64)"`
	// Payload is the raw delivery body, stored verbatim
	Payload datatypes.JSON `gorm:"column:payload;not null;type:jsonb"`
	// Fields is the flat slug-keyed map of extracted values
	Fields datatypes.JSONMap `gorm:"column:fields;not null;type:jsonb"`
	// Status is the processing outcome: success or error
	Status domain.RecordStatus `gorm:"column:status;not null;default:success;type:varchar(20)"`
	// ErrorDetail carries processing error context when status is error
	ErrorDetail string    `gorm:"column:error_detail;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DatasetRecord model
func (DatasetRecord) TableName() string {
	return "dataset_records"
}
