package schema

import (
	"time"

	"github.com/salespulse/sp-ingest/internal/domain"
)

// Connection represents the webhook_connections table - one configured
// inbound endpoint tied to an organization and an optional dataset.
//
// The pipeline reads connections and only ever mutates the delivery counters.
type Connection struct {
	// ID is the connection identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// OrganizationID is the owning organization (UUID)
	OrganizationID string `gorm:"column:organization_id;not null;index;type:varchar(36)"`
	// Name is the operator-facing display name
	Name string `gorm:"column:name;not null;type:varchar(255)"`
	// Kind is the upstream platform: generic, stripe, whop, other
	Kind domain.ConnectionKind `gorm:"column:kind;not null;default:generic;type:varchar(20)"`
	// SignatureScheme selects how deliveries are authenticated
	SignatureScheme domain.SignatureScheme `gorm:"column:signature_scheme;not null;default:none;type:varchar(20)"`
	// SignatureSecret is the shared secret for the configured scheme.
	// A scheme other than none with an empty secret is treated as
	// unverifiable and allowed through with a warning.
	SignatureSecret string `gorm:"column:signature_secret;type:text"`
	// RateLimitPerMinute overrides the global per-minute default when > 0
	RateLimitPerMinute int `gorm:"column:rate_limit_per_minute;not null;default:0"`
	// DatasetID links deliveries to a dataset's field schema
	DatasetID *string `gorm:"column:dataset_id;type:varchar(36)"`
	// IsActive indicates whether this connection accepts deliveries
	IsActive bool `gorm:"column:is_active;not null;default:true"`
	// LastDeliveryAt is the timestamp of the most recent delivery
	LastDeliveryAt *time.Time `gorm:"column:last_delivery_at;type:timestamptz"`
	// DeliveryCount is the cumulative number of deliveries received
	DeliveryCount uint64 `gorm:"column:delivery_count;not null;default:0"`
	// CreatedAt is the timestamp when this connection was registered
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this connection was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Connection model
func (Connection) TableName() string {
	return "webhook_connections"
}
