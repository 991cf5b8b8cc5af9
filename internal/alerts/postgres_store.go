package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists alerts in PostgreSQL. Schema is managed by the
// goose migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (payload, created_at)
		VALUES ($1, NOW())
	`, payload)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, created_at
		FROM alerts
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Alert
	for rows.Next() {
		var a Alert
		var createdAt time.Time
		if err := rows.Scan(&a.ID, &a.Payload, &createdAt); err != nil {
			continue
		}
		a.CreatedAt = createdAt
		result = append(result, &a)
	}
	return result, rows.Err()
}
