package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "datavault/pkg/domain"
	"datavault/pkg/platform/sentinel"
)

// PostgresStore persists consent records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a PostgreSQL-backed consent store bound to a transaction.
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

const consentColumns = `id, owner_id, data_item_id, purpose, status, granted_at, withdrawn_at, expires_at, created_at`

func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("consent record is required")
	}
	query := `
		INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`
	var itemID *uuid.UUID
	if record.DataItemID != nil {
		raw := uuid.UUID(*record.DataItemID)
		itemID = &raw
	}
	var storedID uuid.UUID
	err := s.execer().QueryRowContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.OwnerID),
		itemID,
		record.Purpose,
		string(record.Status),
		record.GrantedAt,
		record.WithdrawnAt,
		record.ExpiresAt,
		record.CreatedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID) (*Record, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE id = $1 AND owner_id = $2
	`
	record, err := scanConsent(s.execer().QueryRowContext(ctx, query, uuid.UUID(consentID), uuid.UUID(ownerID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get consent: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID id.OwnerID) ([]*Record, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.execer().QueryContext(ctx, query, uuid.UUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return records, nil
}

// Execute atomically validates and mutates a consent record under lock. When
// the record references a data item, the item row is locked in the same
// transaction so transitions serialize with erase cascades.
func (s *PostgresStore) Execute(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID, validate func(*Record, bool) error, mutate func(*Record)) (*Record, error) {
	if s.tx != nil {
		return s.executeWithTx(ctx, s.tx, ownerID, consentID, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consent execute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	record, err := s.executeWithTx(ctx, tx, ownerID, consentID, validate, mutate)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consent execute: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) executeWithTx(ctx context.Context, tx *sql.Tx, ownerID id.OwnerID, consentID id.ConsentID, validate func(*Record, bool) error, mutate func(*Record)) (*Record, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`
	record, err := scanConsent(tx.QueryRowContext(ctx, query, uuid.UUID(consentID), uuid.UUID(ownerID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent for execute: %w", err)
	}

	itemActive := true
	if record.DataItemID != nil {
		itemQuery := `
			SELECT is_active
			FROM personal_data_items
			WHERE id = $1 AND owner_id = $2
			FOR UPDATE
		`
		err := tx.QueryRowContext(ctx, itemQuery, uuid.UUID(*record.DataItemID), uuid.UUID(ownerID)).Scan(&itemActive)
		if errors.Is(err, sql.ErrNoRows) {
			itemActive = false
		} else if err != nil {
			return nil, fmt.Errorf("lock data item for execute: %w", err)
		}
	}

	if err := validate(record, itemActive); err != nil {
		return nil, err
	}

	mutate(record)
	if err := updateConsent(ctx, tx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresStore) WithdrawAllGranted(ctx context.Context, ownerID id.OwnerID, withdrawnAt time.Time) (int, error) {
	query := `
		UPDATE consents
		SET status = $1, withdrawn_at = $2
		WHERE owner_id = $3 AND status = $4
	`
	res, err := s.execer().ExecContext(ctx, query,
		string(StatusWithdrawn),
		withdrawnAt,
		uuid.UUID(ownerID),
		string(StatusGranted),
	)
	if err != nil {
		return 0, fmt.Errorf("withdraw all consents: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("withdraw all consents: rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) WithdrawGrantedByItem(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, withdrawnAt time.Time) (int, error) {
	query := `
		UPDATE consents
		SET status = $1, withdrawn_at = $2
		WHERE owner_id = $3 AND data_item_id = $4 AND status = $5
	`
	res, err := s.execer().ExecContext(ctx, query,
		string(StatusWithdrawn),
		withdrawnAt,
		uuid.UUID(ownerID),
		uuid.UUID(itemID),
		string(StatusGranted),
	)
	if err != nil {
		return 0, fmt.Errorf("withdraw consents by item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("withdraw consents by item: rows affected: %w", err)
	}
	return int(affected), nil
}

func updateConsent(ctx context.Context, exec dbExecutor, record *Record) error {
	query := `
		UPDATE consents
		SET status = $2, granted_at = $3, withdrawn_at = $4, expires_at = $5
		WHERE id = $1 AND owner_id = $6
	`
	res, err := exec.ExecContext(ctx, query,
		uuid.UUID(record.ID),
		string(record.Status),
		record.GrantedAt,
		record.WithdrawnAt,
		record.ExpiresAt,
		uuid.UUID(record.OwnerID),
	)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update consent: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*Record, error) {
	var (
		record    Record
		rawID     uuid.UUID
		rawOwner  uuid.UUID
		rawItem   *uuid.UUID
		rawStatus string
	)
	err := row.Scan(
		&rawID,
		&rawOwner,
		&rawItem,
		&record.Purpose,
		&rawStatus,
		&record.GrantedAt,
		&record.WithdrawnAt,
		&record.ExpiresAt,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id.ConsentID(rawID)
	record.OwnerID = id.OwnerID(rawOwner)
	record.Status = Status(rawStatus)
	if rawItem != nil {
		itemID := id.ItemID(*rawItem)
		record.DataItemID = &itemID
	}
	return &record, nil
}
