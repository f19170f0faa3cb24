package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "datavault/pkg/domain"
	"datavault/pkg/platform/sentinel"
)

// PostgresStore persists data items in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed item store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a PostgreSQL-backed item store bound to a transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const itemColumns = `id, owner_id, category, field_name, field_value, purpose, source, data_controller, retention_days, collected_at, is_active`

func (s *PostgresStore) Save(ctx context.Context, item *Item) error {
	if item == nil {
		return fmt.Errorf("data item is required")
	}
	query := `
		INSERT INTO personal_data_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`
	var storedID uuid.UUID
	err := s.execer().QueryRowContext(ctx, query,
		uuid.UUID(item.ID),
		uuid.UUID(item.OwnerID),
		string(item.Category),
		item.FieldName,
		item.FieldValue,
		item.Purpose,
		item.Source,
		item.DataController,
		item.RetentionDays,
		item.CollectedAt,
		item.IsActive,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save data item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID) (*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM personal_data_items
		WHERE id = $1 AND owner_id = $2
	`
	item, err := scanItem(s.execer().QueryRowContext(ctx, query, uuid.UUID(itemID), uuid.UUID(ownerID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get data item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, ownerID id.OwnerID, filter Filter) ([]*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM personal_data_items
		WHERE owner_id = $1 AND is_active = TRUE
	`
	args := []any{uuid.UUID(ownerID)}

	if filter.Category != nil {
		args = append(args, string(*filter.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		query += fmt.Sprintf(" AND (field_name ILIKE $%d OR field_value ILIKE $%d OR purpose ILIKE $%d)", n, n, n)
	}
	query += " ORDER BY collected_at DESC"

	return s.queryItems(ctx, query, args...)
}

func (s *PostgresStore) ListAll(ctx context.Context, ownerID id.OwnerID) ([]*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM personal_data_items
		WHERE owner_id = $1
		ORDER BY collected_at DESC
	`
	return s.queryItems(ctx, query, uuid.UUID(ownerID))
}

func (s *PostgresStore) UpdateValue(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, fieldValue string) error {
	query := `
		UPDATE personal_data_items
		SET field_value = $3
		WHERE id = $1 AND owner_id = $2
	`
	res, err := s.execer().ExecContext(ctx, query, uuid.UUID(itemID), uuid.UUID(ownerID), fieldValue)
	if err != nil {
		return fmt.Errorf("update data item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update data item: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID) (bool, error) {
	query := `
		UPDATE personal_data_items
		SET is_active = FALSE
		WHERE id = $1 AND owner_id = $2 AND is_active = TRUE
	`
	res, err := s.execer().ExecContext(ctx, query, uuid.UUID(itemID), uuid.UUID(ownerID))
	if err != nil {
		return false, fmt.Errorf("deactivate data item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate data item: rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Zero rows: missing item or already inactive. Distinguish for callers.
	var exists bool
	err = s.execer().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM personal_data_items WHERE id = $1 AND owner_id = $2)`,
		uuid.UUID(itemID), uuid.UUID(ownerID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("deactivate data item: existence check: %w", err)
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) CountActiveByCategory(ctx context.Context, ownerID id.OwnerID) (map[Category]int, error) {
	query := `
		SELECT category, COUNT(*)
		FROM personal_data_items
		WHERE owner_id = $1 AND is_active = TRUE
		GROUP BY category
	`
	rows, err := s.execer().QueryContext(ctx, query, uuid.UUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("count data items by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[Category]int)
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[Category(category)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list data items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item        Item
		rawID       uuid.UUID
		rawOwner    uuid.UUID
		rawCategory string
	)
	err := row.Scan(
		&rawID,
		&rawOwner,
		&rawCategory,
		&item.FieldName,
		&item.FieldValue,
		&item.Purpose,
		&item.Source,
		&item.DataController,
		&item.RetentionDays,
		&item.CollectedAt,
		&item.IsActive,
	)
	if err != nil {
		return nil, err
	}
	item.ID = id.ItemID(rawID)
	item.OwnerID = id.OwnerID(rawOwner)
	item.Category = Category(rawCategory)
	return &item, nil
}
