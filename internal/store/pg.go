package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults:
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// GetConnectionByID retrieves a connection by its identifier
func (s *pgStore) GetConnectionByID(ctx context.Context, id string) (*schema.Connection, error) {
	var conn schema.Connection
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// CreateConnection registers a new connection
func (s *pgStore) CreateConnection(ctx context.Context, conn *schema.Connection) error {
	if err := s.db.WithContext(ctx).Create(conn).Error; err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// BumpDeliveryStats increments the connection's delivery counter and
// refreshes its last-delivery timestamp
func (s *pgStore) BumpDeliveryStats(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Connection{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"delivery_count":   gorm.Expr("delivery_count + 1"),
			"last_delivery_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to bump delivery stats: %w", err)
	}
	return nil
}

// ListMappedFields retrieves the dataset's mapped field definitions in sort order
func (s *pgStore) ListMappedFields(ctx context.Context, datasetID string) ([]*schema.FieldDefinition, error) {
	var fields []*schema.FieldDefinition
	err := s.db.WithContext(ctx).
		Where("dataset_id = ? AND source = ?", datasetID, string(domain.FieldSourceMapped)).
		Order("sort_order ASC, slug ASC").
		Find(&fields).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list mapped fields: %w", err)
	}
	return fields, nil
}

// ListActiveRules retrieves the dataset's active enrichment rules in rule order
func (s *pgStore) ListActiveRules(ctx context.Context, datasetID string) ([]*schema.EnrichmentRule, error) {
	var rules []*schema.EnrichmentRule
	err := s.db.WithContext(ctx).
		Where("dataset_id = ? AND is_active = ?", datasetID, true).
		Order("sort_order ASC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	return rules, nil
}

// GetRecordByHash looks up an existing record by its idempotency key
func (s *pgStore) GetRecordByHash(ctx context.Context, datasetID, connectionID, hash string) (*schema.DatasetRecord, error) {
	var record schema.DatasetRecord
	err := s.db.WithContext(ctx).
		Where("dataset_id = ? AND connection_id = ? AND payload_hash = ?", datasetID, connectionID, hash).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get record by hash: %w", err)
	}
	return &record, nil
}

// CreateRecord inserts a record with ON CONFLICT DO NOTHING on the
// idempotency key. RowsAffected == 0 means a concurrent delivery with the
// same hash won the insert race; the caller refetches the winning row instead
// of surfacing the constraint violation.
func (s *pgStore) CreateRecord(ctx context.Context, record *schema.DatasetRecord) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "dataset_id"}, {Name: "connection_id"}, {Name: "payload_hash"},
		},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create record: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// UpdateRecordFields persists a reconciled field map on an existing record
func (s *pgStore) UpdateRecordFields(ctx context.Context, recordID string, fields datatypes.JSONMap) error {
	err := s.db.WithContext(ctx).
		Model(&schema.DatasetRecord{}).
		Where("id = ?", recordID).
		UpdateColumns(map[string]any{
			"fields":     fields,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update record fields: %w", err)
	}
	return nil
}

// AppendDeliveryLog appends one audit-trail entry
func (s *pgStore) AppendDeliveryLog(ctx context.Context, entry *schema.DeliveryLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}
	return nil
}

// ListDeliveryLogs retrieves recent audit entries for a connection, newest first
func (s *pgStore) ListDeliveryLogs(ctx context.Context, connectionID string, limit, offset int) ([]*schema.DeliveryLog, error) {
	var entries []*schema.DeliveryLog
	err := s.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return entries, nil
}

// identPattern matches safe SQL identifiers. Target table and column names
// come from operator-authored rules and are interpolated into queries, so
// anything else is rejected outright.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(names ...string) error {
	for _, name := range names {
		if !identPattern.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

// FindTargetRow finds one row where column = value scoped to the organization
func (s *pgStore) FindTargetRow(ctx context.Context, table, column string, value any, organizationID string) (map[string]any, error) {
	if err := validIdent(table, column); err != nil {
		return nil, err
	}

	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table(table).
		Where(fmt.Sprintf("%s = ? AND organization_id = ?", column), value, organizationID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// UpdateTargetRow applies updates to the row(s) where column = value scoped
// to the organization
func (s *pgStore) UpdateTargetRow(ctx context.Context, table, column string, value any, organizationID string, updates map[string]any) error {
	if err := validIdent(table, column); err != nil {
		return err
	}
	for col := range updates {
		if err := validIdent(col); err != nil {
			return err
		}
	}

	err := s.db.WithContext(ctx).
		Table(table).
		Where(fmt.Sprintf("%s = ? AND organization_id = ?", column), value, organizationID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}

// UpsertTargetRow inserts a row with ON CONFLICT DO NOTHING on the given
// columns, closing the create/create race between concurrent deliveries.
// Postgres raises SQLSTATE 42P10 when the conflict target has no matching
// unique constraint; that is surfaced as domain.ErrNoUniqueConstraint so the
// engine can fall back to a plain insert.
func (s *pgStore) UpsertTargetRow(ctx context.Context, table string, conflictColumns []string, row map[string]any) (bool, error) {
	if err := validIdent(table); err != nil {
		return false, err
	}
	if err := validIdent(conflictColumns...); err != nil {
		return false, err
	}
	for col := range row {
		if err := validIdent(col); err != nil {
			return false, err
		}
	}

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}

	result := s.db.WithContext(ctx).
		Table(table).
		Clauses(clause.OnConflict{
			Columns:   columns,
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		if strings.Contains(result.Error.Error(), "42P10") {
			return false, domain.ErrNoUniqueConstraint
		}
		return false, fmt.Errorf("failed to upsert into %s: %w", table, result.Error)
	}

	return result.RowsAffected > 0, nil
}

// InsertTargetRow inserts a row without conflict handling
func (s *pgStore) InsertTargetRow(ctx context.Context, table string, row map[string]any) error {
	if err := validIdent(table); err != nil {
		return err
	}
	for col := range row {
		if err := validIdent(col); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Table(table).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}
