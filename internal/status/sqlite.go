package status

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteStore persists statuses in the video_status table so they survive a
// restart. Entries left at processing are failed when the database reopens.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Set(ctx context.Context, id string, st Status) error {
	if err := checkSet(id, st); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_status (id, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`, id, string(st), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Status, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM video_status WHERE id = ?", id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return Unknown, nil
	}
	if err != nil {
		return Unknown, err
	}
	return Status(value), nil
}
