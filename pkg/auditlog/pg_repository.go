package auditlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository implements Repository on PostgreSQL
type PgRepository struct {
	db *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL-backed audit repository
func NewPgRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

// EnsureSchema creates the audit table when it does not exist yet
func (r *PgRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS otp_audit_log (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			event TEXT NOT NULL,
			message TEXT NOT NULL,
			data JSONB
		)
	`
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Insert stores an entry
func (r *PgRepository) Insert(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO otp_audit_log (id, created_at, severity, event, message, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal entry data: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		entry.ID, entry.Timestamp, string(entry.Severity), entry.Event, entry.Message, data)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// List returns the newest entries, up to limit, newest first
func (r *PgRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, created_at, severity, event, message, data
		FROM otp_audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var severity string
		var data []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&severity,
			&entry.Event,
			&entry.Message,
			&data,
		); err != nil {
			return nil, err
		}
		entry.Severity = Severity(severity)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &entry.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry data: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Count returns the number of stored entries
func (r *PgRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM otp_audit_log`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// Trim deletes all but the newest keep entries
func (r *PgRepository) Trim(ctx context.Context, keep int) error {
	query := `
		DELETE FROM otp_audit_log
		WHERE id NOT IN (
			SELECT id FROM otp_audit_log
			ORDER BY created_at DESC
			LIMIT $1
		)
	`

	_, err := r.db.Exec(ctx, query, keep)
	if err != nil {
		return fmt.Errorf("failed to trim audit entries: %w", err)
	}
	return nil
}
