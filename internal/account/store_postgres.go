package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "datavault/pkg/domain"
	"datavault/pkg/platform/sentinel"
)

// PostgresStore persists owner accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed account store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ownerColumns = `id, email, name, password_hash, created_at`

func (s *PostgresStore) Save(ctx context.Context, owner *Owner) error {
	if owner == nil {
		return fmt.Errorf("owner is required")
	}
	query := `
		INSERT INTO owners (` + ownerColumns + `)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(owner.ID),
		strings.ToLower(strings.TrimSpace(owner.Email)),
		owner.Name,
		owner.PasswordHash,
		owner.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save owner: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*Owner, error) {
	query := `
		SELECT ` + ownerColumns + `
		FROM owners
		WHERE email = $1
	`
	return s.scanOwner(s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PostgresStore) GetByID(ctx context.Context, ownerID id.OwnerID) (*Owner, error) {
	query := `
		SELECT ` + ownerColumns + `
		FROM owners
		WHERE id = $1
	`
	return s.scanOwner(s.db.QueryRowContext(ctx, query, uuid.UUID(ownerID)))
}

func (s *PostgresStore) scanOwner(row *sql.Row) (*Owner, error) {
	var (
		owner Owner
		rawID uuid.UUID
	)
	err := row.Scan(&rawID, &owner.Email, &owner.Name, &owner.PasswordHash, &owner.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get owner: %w", err)
	}
	owner.ID = id.OwnerID(rawID)
	return &owner, nil
}
