// Package cronlog records structured job log events, broadcasts them to
// live subscribers, and expires persisted events after a retention horizon.
package cronlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"stepflow/internal/domain"
)

// EnsureSchema creates the log table if it doesn't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS cron_logs (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  severity TEXT NOT NULL CHECK(severity IN ('info','success','warning','error')) DEFAULT 'info',
  message TEXT NOT NULL,
  created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cron_logs_user_created ON cron_logs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cron_logs_created ON cron_logs(created_at);
`
	_, err := db.Exec(schema)
	return err
}

type Store interface {
	Insert(ctx context.Context, ev domain.LogEvent) error
	List(ctx context.Context, userID string, page, pageSize int) ([]domain.LogEvent, error)
	Count(ctx context.Context, userID string) (int, error)
	DeleteAll(ctx context.Context, userID string) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type sqliteStore struct{ db *sql.DB }

func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

// NewEvent stamps an id and timestamp onto a log record.
func NewEvent(userID string, sev domain.Severity, message string, at time.Time) domain.LogEvent {
	return domain.LogEvent{
		ID:        "log_" + uuid.NewString(),
		UserID:    userID,
		Severity:  sev,
		Message:   message,
		CreatedAt: at.UTC(),
	}
}

func (s *sqliteStore) Insert(ctx context.Context, ev domain.LogEvent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cron_logs (id, user_id, severity, message, created_at) VALUES (?,?,?,?,?)
`, ev.ID, ev.UserID, string(ev.Severity), ev.Message, ev.CreatedAt.UTC())
	return err
}

// List returns a user's events newest-first. page is 1-based.
func (s *sqliteStore) List(ctx context.Context, userID string, page, pageSize int) ([]domain.LogEvent, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, severity, message, created_at
FROM cron_logs
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.LogEvent{}
	for rows.Next() {
		var (
			ev  domain.LogEvent
			sev string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &sev, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Severity = domain.Severity(sev)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cron_logs WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (s *sqliteStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_logs WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
