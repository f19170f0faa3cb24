//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"datavault/migrations"
	id "datavault/pkg/domain"
)

// PostgresContainer wraps a testcontainers Postgres instance.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a new Postgres container with migrations applied.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("datavault_test"),
		postgres.WithUsername("datavault"),
		postgres.WithPassword("datavault_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to postgres: %v", err)
	}

	pc := &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}

	if err := pc.runMigrations(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	// No t.Cleanup here: Ryuk (testcontainers' cleanup sidecar) reaps the
	// container when the test process exits, so suites can share one instance.

	return pc
}

// runMigrations executes all *.up.sql migrations from the embedded migrations.FS.
func (p *PostgresContainer) runMigrations(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		if _, err := p.DB.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
	}

	return nil
}

// TruncateTables clears all data from the specified tables.
// Use between tests to ensure isolation without restarting the container.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		_, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE")
		if err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// TruncateAll truncates all module tables. Order matters due to FK
// constraints; CASCADE handles dependencies.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	return p.TruncateTables(ctx,
		"audit_entries",
		"consents",
		"personal_data_items",
		"owners",
	)
}

// Exec runs a SQL statement and returns the result.
func (p *PostgresContainer) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.DB.ExecContext(ctx, query, args...)
}

// QueryRow runs a SQL query expected to return a single row.
func (p *PostgresContainer) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.DB.QueryRowContext(ctx, query, args...)
}

// CreateTestOwner inserts an owner account so FK-dependent rows can be
// written. Fails the test if insertion fails.
func (p *PostgresContainer) CreateTestOwner(ctx context.Context, t testing.TB) id.OwnerID {
	t.Helper()
	ownerID := id.NewOwnerID()
	_, err := p.Exec(ctx, `
		INSERT INTO owners (id, email, name, password_hash, created_at)
		VALUES ($1, $2, 'Test Owner', 'not-a-real-hash', NOW())
	`, uuid.UUID(ownerID), "test-"+uuid.NewString()+"@example.com")
	if err != nil {
		t.Fatalf("CreateTestOwner: %v", err)
	}
	return ownerID
}

// CreateTestItem inserts an active personal data item for the given owner.
// Fails the test if insertion fails.
func (p *PostgresContainer) CreateTestItem(ctx context.Context, t testing.TB, ownerID id.OwnerID) id.ItemID {
	t.Helper()
	itemID := id.NewItemID()
	_, err := p.Exec(ctx, `
		INSERT INTO personal_data_items (id, owner_id, category, field_name, field_value, purpose, source, data_controller, retention_days, collected_at, is_active)
		VALUES ($1, $2, 'CONTACT', 'Email Address', 'test@example.com', 'Testing', 'Test Suite', 'DataVault Inc.', 30, NOW(), TRUE)
	`, uuid.UUID(itemID), uuid.UUID(ownerID))
	if err != nil {
		t.Fatalf("CreateTestItem: %v", err)
	}
	return itemID
}
