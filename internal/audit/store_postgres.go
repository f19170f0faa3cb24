package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "datavault/pkg/domain"
)

// PostgresStore persists audit entries in PostgreSQL. Entries are insert-only;
// the schema carries no update or delete statements on purpose.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO audit_entries (id, owner_id, action, entity_type, entity_id, details, ip_address, user_agent, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var details []byte
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}

	var entityID *string
	if entry.EntityID != "" {
		entityID = &entry.EntityID
	}

	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.OwnerID),
		string(entry.Action),
		entry.EntityType,
		entityID,
		details,
		entry.IPAddress,
		entry.UserAgent,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, ownerID id.OwnerID, filter Filter, offset, limit int) ([]Entry, int, error) {
	where := "WHERE owner_id = $1"
	args := []any{uuid.UUID(ownerID)}

	if filter.Action != nil {
		args = append(args, string(*filter.Action))
		where += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_entries " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	args = append(args, limit, offset)
	pageQuery := fmt.Sprintf(`
		SELECT id, owner_id, action, entity_type, entity_id, details, ip_address, user_agent, timestamp
		FROM audit_entries %s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID id.OwnerID) ([]Entry, error) {
	query := `
		SELECT id, owner_id, action, entity_type, entity_id, details, ip_address, user_agent, timestamp
		FROM audit_entries
		WHERE owner_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) CountByAction(ctx context.Context, ownerID id.OwnerID) (map[Action]int, error) {
	query := `
		SELECT action, COUNT(*)
		FROM audit_entries
		WHERE owner_id = $1
		GROUP BY action
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("count audit entries by action: %w", err)
	}
	defer rows.Close()

	counts := make(map[Action]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("scan action count: %w", err)
		}
		counts[Action(action)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) CountSince(ctx context.Context, ownerID id.OwnerID, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE owner_id = $1 AND timestamp >= $2`,
		uuid.UUID(ownerID), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent audit entries: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Count(ctx context.Context, ownerID id.OwnerID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE owner_id = $1`,
		uuid.UUID(ownerID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var entryID, ownerID uuid.UUID
		var action string
		var entityID sql.NullString
		var details []byte

		if err := rows.Scan(&entryID, &ownerID, &action, &entry.EntityType, &entityID, &details, &entry.IPAddress, &entry.UserAgent, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = id.EntryID(entryID)
		entry.OwnerID = id.OwnerID(ownerID)
		entry.Action = Action(action)
		if entityID.Valid {
			entry.EntityID = entityID.String
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
