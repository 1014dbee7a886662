package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/salespulse/sp-ingest/internal/domain"
)

// DeliveryLog represents the delivery_logs table - append-only audit trail of
// delivery attempts, including rejected ones (sampled under burst).
type DeliveryLog struct {
	// ID is a ULID for time-sortable uniqueness
	ID string `gorm:"column:id;primaryKey;type:varchar(26)"`
	// ConnectionID is the connection the delivery targeted
	ConnectionID string `gorm:"column:connection_id;not null;index;type:varchar(36)"`
	// Status is success, partial, error, or rejected
	Status domain.DeliveryStatus `gorm:"column:status;not null;type:varchar(20)"`
	// Payload is the raw delivery body; omitted for sampled rejection entries
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb"`
	// Fields is the extracted field map at processing time
	Fields datatypes.JSONMap `gorm:"column:fields;type:jsonb"`
	// ErrorMessage contains error details if processing failed
	ErrorMessage string `gorm:"column:error_message;type:text"`
	// LatencyMS is the total processing time in milliseconds
	LatencyMS int64 `gorm:"column:latency_ms;not null;default:0"`
	// Headers is the sanitized request header map (secrets redacted)
	Headers datatypes.JSONMap `gorm:"column:headers;type:jsonb"`
	// SourceIP is the originating client address
	SourceIP string `gorm:"column:source_ip;type:varchar(45)"`
	// PayloadHash is the content hash computed for deduplication
	PayloadHash string `gorm:"column:payload_hash;type:varchar(64)"`
	// RecordID links to the canonical record, when one was produced
	RecordID *string `gorm:"column:record_id;type:varchar(36)"`
	// CreatedAt is the timestamp of the delivery attempt
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DeliveryLog model
func (DeliveryLog) TableName() string {
	return "delivery_logs"
}
