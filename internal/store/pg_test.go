package store

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/datatypes"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	if err := initializeTestDatabase(testDB); err != nil {
		fmt.Printf("Failed to initialize database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	code := m.Run()

	terminateContainer(ctx)
	os.Exit(code)
}

func terminateContainer(ctx context.Context) {
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}
}

// initializeTestDatabase runs the schema initialization SQL
func initializeTestDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	schemaPath := filepath.Join("..", "..", "db", "init_pg_db.sql")
	schemaSQL, err := os.ReadFile(schemaPath) //nolint:gosec,G304
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := sqlDB.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// resetTables truncates all mutable tables between tests
func resetTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{
		"delivery_logs", "dataset_records", "enrichment_rules", "dataset_fields",
		"webhook_connections", "datasets", "contacts", "deals",
	} {
		require.NoError(t, testDB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error)
	}
}

func seedDatasetAndConnection(t *testing.T) (*schema.Dataset, *schema.Connection) {
	t.Helper()

	dataset := &schema.Dataset{ID: "ds-1", OrganizationID: "org-1", Name: "Payments"}
	require.NoError(t, testDB.Create(dataset).Error)

	dsID := dataset.ID
	conn := &schema.Connection{
		ID:              "conn-1",
		OrganizationID:  "org-1",
		Name:            "Stripe production",
		Kind:            domain.ConnectionKindStripe,
		SignatureScheme: domain.SignatureSchemeStripeHMAC,
		DatasetID:       &dsID,
		IsActive:        true,
	}
	require.NoError(t, testDB.Create(conn).Error)

	return dataset, conn
}

func TestPostgreSQLStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := NewPGStore(testDB)
	ctx := context.Background()

	t.Run("connections", func(t *testing.T) {
		resetTables(t)
		_, conn := seedDatasetAndConnection(t)

		t.Run("get by id", func(t *testing.T) {
			loaded, err := s.GetConnectionByID(ctx, conn.ID)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, "Stripe production", loaded.Name)
			assert.Equal(t, domain.ConnectionKindStripe, loaded.Kind)
		})

		t.Run("absent returns nil without error", func(t *testing.T) {
			loaded, err := s.GetConnectionByID(ctx, "ghost")
			require.NoError(t, err)
			assert.Nil(t, loaded)
		})

		t.Run("bump delivery stats", func(t *testing.T) {
			require.NoError(t, s.BumpDeliveryStats(ctx, conn.ID))
			require.NoError(t, s.BumpDeliveryStats(ctx, conn.ID))

			loaded, err := s.GetConnectionByID(ctx, conn.ID)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), loaded.DeliveryCount)
			require.NotNil(t, loaded.LastDeliveryAt)
			assert.WithinDuration(t, time.Now(), *loaded.LastDeliveryAt, time.Minute)
		})
	})

	t.Run("mapped fields ordering", func(t *testing.T) {
		resetTables(t)
		dataset, _ := seedDatasetAndConnection(t)

		fields := []*schema.FieldDefinition{
			{ID: "f-1", DatasetID: dataset.ID, Slug: "zeta", Source: domain.FieldSourceMapped, SourcePath: "z", SortOrder: 2},
			{ID: "f-2", DatasetID: dataset.ID, Slug: "alpha", Source: domain.FieldSourceMapped, SourcePath: "a", SortOrder: 1},
			{ID: "f-3", DatasetID: dataset.ID, Slug: "manual", Source: domain.FieldSourceManual, SortOrder: 0},
		}
		for _, f := range fields {
			require.NoError(t, testDB.Create(f).Error)
		}

		listed, err := s.ListMappedFields(ctx, dataset.ID)
		require.NoError(t, err)
		require.Len(t, listed, 2, "manual fields are excluded")
		assert.Equal(t, "alpha", listed[0].Slug)
		assert.Equal(t, "zeta", listed[1].Slug)
	})

	t.Run("active rules ordering", func(t *testing.T) {
		resetTables(t)
		dataset, _ := seedDatasetAndConnection(t)

		rules := []*schema.EnrichmentRule{
			{ID: "r-2", DatasetID: dataset.ID, TargetTable: "deals", MatchField: "ref", TargetColumn: "reference", IsActive: true, SortOrder: 2},
			{ID: "r-1", DatasetID: dataset.ID, TargetTable: "contacts", MatchField: "email", TargetColumn: "email", IsActive: true, SortOrder: 1},
			{ID: "r-3", DatasetID: dataset.ID, TargetTable: "contacts", MatchField: "email", TargetColumn: "email", IsActive: false, SortOrder: 0},
		}
		for _, r := range rules {
			require.NoError(t, testDB.Create(r).Error)
		}

		listed, err := s.ListActiveRules(ctx, dataset.ID)
		require.NoError(t, err)
		require.Len(t, listed, 2, "inactive rules are excluded")
		assert.Equal(t, "r-1", listed[0].ID)
		assert.Equal(t, "r-2", listed[1].ID)
	})

	t.Run("records", func(t *testing.T) {
		resetTables(t)
		dataset, conn := seedDatasetAndConnection(t)

		hash := "a3f5"
		record := &schema.DatasetRecord{
			ID:           "rec-1",
			DatasetID:    dataset.ID,
			ConnectionID: conn.ID,
			PayloadHash:  &hash,
			Payload:      datatypes.JSON(`{"amount":100}`),
			Fields:       datatypes.JSONMap{"amount": 100.0},
			Status:       domain.RecordStatusSuccess,
		}

		t.Run("create and fetch by hash", func(t *testing.T) {
			created, err := s.CreateRecord(ctx, record)
			require.NoError(t, err)
			assert.True(t, created)

			loaded, err := s.GetRecordByHash(ctx, dataset.ID, conn.ID, hash)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, "rec-1", loaded.ID)
		})

		t.Run("duplicate hash loses quietly", func(t *testing.T) {
			dup := *record
			dup.ID = "rec-2"
			created, err := s.CreateRecord(ctx, &dup)
			require.NoError(t, err)
			assert.False(t, created, "conflicting insert reports zero rows")

			var count int64
			require.NoError(t, testDB.Model(&schema.DatasetRecord{}).Count(&count).Error)
			assert.Equal(t, int64(1), count)
		})

		t.Run("null hash never conflicts", func(t *testing.T) {
			for _, id := range []string{"rec-forced-1", "rec-forced-2"} {
				forced := &schema.DatasetRecord{
					ID:           id,
					DatasetID:    dataset.ID,
					ConnectionID: conn.ID,
					Payload:      datatypes.JSON(`{"amount":100}`),
					Fields:       datatypes.JSONMap{"amount": 100.0},
					Status:       domain.RecordStatusSuccess,
				}
				created, err := s.CreateRecord(ctx, forced)
				require.NoError(t, err)
				assert.True(t, created)
			}
		})

		t.Run("update fields", func(t *testing.T) {
			merged := datatypes.JSONMap{"amount": 100.0, "currency": "usd"}
			require.NoError(t, s.UpdateRecordFields(ctx, "rec-1", merged))

			loaded, err := s.GetRecordByHash(ctx, dataset.ID, conn.ID, hash)
			require.NoError(t, err)
			assert.Equal(t, "usd", loaded.Fields["currency"])
		})
	})

	t.Run("delivery logs", func(t *testing.T) {
		resetTables(t)
		_, conn := seedDatasetAndConnection(t)

		for i, id := range []string{"01AAAAAAAAAAAAAAAAAAAAAAAA", "01BBBBBBBBBBBBBBBBBBBBBBBB", "01CCCCCCCCCCCCCCCCCCCCCCCC"} {
			entry := &schema.DeliveryLog{
				ID:           id,
				ConnectionID: conn.ID,
				Status:       domain.DeliveryStatusSuccess,
				LatencyMS:    int64(i),
				CreatedAt:    time.Now(),
			}
			require.NoError(t, s.AppendDeliveryLog(ctx, entry))
		}

		entries, err := s.ListDeliveryLogs(ctx, conn.ID, 2, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		// ULIDs sort newest first under descending ID order
		assert.Equal(t, "01CCCCCCCCCCCCCCCCCCCCCCCC", entries[0].ID)
		assert.Equal(t, "01BBBBBBBBBBBBBBBBBBBBBBBB", entries[1].ID)

		offsetEntries, err := s.ListDeliveryLogs(ctx, conn.ID, 2, 2)
		require.NoError(t, err)
		require.Len(t, offsetEntries, 1)
		assert.Equal(t, "01AAAAAAAAAAAAAAAAAAAAAAAA", offsetEntries[0].ID)
	})

	t.Run("target rows", func(t *testing.T) {
		resetTables(t)
		seedDatasetAndConnection(t)

		t.Run("find miss returns nil", func(t *testing.T) {
			row, err := s.FindTargetRow(ctx, "contacts", "email", "ada@example.com", "org-1")
			require.NoError(t, err)
			assert.Nil(t, row)
		})

		t.Run("upsert creates then yields on conflict", func(t *testing.T) {
			created, err := s.UpsertTargetRow(ctx, "contacts", []string{"email", "organization_id"}, map[string]any{
				"email":           "ada@example.com",
				"organization_id": "org-1",
				"name":            "Ada",
			})
			require.NoError(t, err)
			assert.True(t, created)

			again, err := s.UpsertTargetRow(ctx, "contacts", []string{"email", "organization_id"}, map[string]any{
				"email":           "ada@example.com",
				"organization_id": "org-1",
				"name":            "Someone Else",
			})
			require.NoError(t, err)
			assert.False(t, again)

			row, err := s.FindTargetRow(ctx, "contacts", "email", "ada@example.com", "org-1")
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.Equal(t, "Ada", row["name"], "losing upsert writes nothing")
		})

		t.Run("find is organization scoped", func(t *testing.T) {
			row, err := s.FindTargetRow(ctx, "contacts", "email", "ada@example.com", "org-2")
			require.NoError(t, err)
			assert.Nil(t, row)
		})

		t.Run("update", func(t *testing.T) {
			err := s.UpdateTargetRow(ctx, "contacts", "email", "ada@example.com", "org-1", map[string]any{
				"name": "Ada Lovelace",
			})
			require.NoError(t, err)

			row, err := s.FindTargetRow(ctx, "contacts", "email", "ada@example.com", "org-1")
			require.NoError(t, err)
			assert.Equal(t, "Ada Lovelace", row["name"])
		})

		t.Run("upsert without unique constraint surfaces sentinel", func(t *testing.T) {
			_, err := s.UpsertTargetRow(ctx, "deals", []string{"reference", "organization_id"}, map[string]any{
				"reference":       "D-42",
				"organization_id": "org-1",
			})
			assert.True(t, errors.Is(err, domain.ErrNoUniqueConstraint))
		})

		t.Run("plain insert fallback", func(t *testing.T) {
			err := s.InsertTargetRow(ctx, "deals", map[string]any{
				"reference":       "D-42",
				"organization_id": "org-1",
				"stage":           "won",
			})
			require.NoError(t, err)

			row, err := s.FindTargetRow(ctx, "deals", "reference", "D-42", "org-1")
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.Equal(t, "won", row["stage"])
		})

		t.Run("rejects unsafe identifiers", func(t *testing.T) {
			_, err := s.FindTargetRow(ctx, "contacts; DROP TABLE contacts", "email", "x", "org-1")
			assert.Error(t, err)

			err = s.UpdateTargetRow(ctx, "contacts", `email" = 'x' --`, "x", "org-1", map[string]any{"name": "x"})
			assert.Error(t, err)
		})
	})
}
