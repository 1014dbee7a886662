package store

import (
	"context"

	"gorm.io/datatypes"

	"github.com/salespulse/sp-ingest/internal/store/schema"
)

// Store defines the interface for database operations used by the pipeline
type Store interface {
	// GetConnectionByID retrieves a connection by its identifier; nil when absent
	GetConnectionByID(ctx context.Context, id string) (*schema.Connection, error)
	// CreateConnection registers a new connection
	CreateConnection(ctx context.Context, conn *schema.Connection) error
	// BumpDeliveryStats increments the connection's delivery counter and
	// refreshes its last-delivery timestamp
	BumpDeliveryStats(ctx context.Context, id string) error

	// ListMappedFields retrieves the dataset's mapped field definitions in sort order
	ListMappedFields(ctx context.Context, datasetID string) ([]*schema.FieldDefinition, error)
	// ListActiveRules retrieves the dataset's active enrichment rules in rule order
	ListActiveRules(ctx context.Context, datasetID string) ([]*schema.EnrichmentRule, error)

	// GetRecordByHash looks up an existing record by its idempotency key; nil when absent
	GetRecordByHash(ctx context.Context, datasetID, connectionID, hash string) (*schema.DatasetRecord, error)
	// CreateRecord inserts a record, tolerating a concurrent insert with the
	// same idempotency key. Returns false when the insert lost the race and
	// the caller should refetch the winning row.
	CreateRecord(ctx context.Context, record *schema.DatasetRecord) (bool, error)
	// UpdateRecordFields persists a reconciled field map on an existing record
	UpdateRecordFields(ctx context.Context, recordID string, fields datatypes.JSONMap) error

	// AppendDeliveryLog appends one audit-trail entry
	AppendDeliveryLog(ctx context.Context, entry *schema.DeliveryLog) error
	// ListDeliveryLogs retrieves recent audit entries for a connection, newest first
	ListDeliveryLogs(ctx context.Context, connectionID string, limit, offset int) ([]*schema.DeliveryLog, error)

	TargetStore
}

// TargetStore is the narrow capability the enrichment engine uses to touch
// rule-configured tables. Table and column names are validated as SQL
// identifiers before interpolation; callers additionally enforce the
// configured table allow-list.
type TargetStore interface {
	// FindTargetRow finds one row where column = value scoped to the
	// organization; nil when absent
	FindTargetRow(ctx context.Context, table, column string, value any, organizationID string) (map[string]any, error)
	// UpdateTargetRow applies updates to the row(s) where column = value
	// scoped to the organization
	UpdateTargetRow(ctx context.Context, table, column string, value any, organizationID string, updates map[string]any) error
	// UpsertTargetRow inserts a row, doing nothing when the conflict columns
	// collide. Returns false when an existing row won the race. Returns
	// domain.ErrNoUniqueConstraint when the table lacks a matching unique
	// constraint.
	UpsertTargetRow(ctx context.Context, table string, conflictColumns []string, row map[string]any) (bool, error)
	// InsertTargetRow inserts a row without conflict handling; the enrichment
	// engine's last-resort fallback when no unique constraint exists
	InsertTargetRow(ctx context.Context, table string, row map[string]any) error
}
