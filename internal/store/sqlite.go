package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stepflow/internal/domain"
)

var ErrNotFound = errors.New("not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS user_settings (
  user_id TEXT PRIMARY KEY,
  enabled INTEGER NOT NULL DEFAULT 0,
  period INTEGER NOT NULL DEFAULT 1,
  unit TEXT NOT NULL CHECK(unit IN ('minutes','hours','days')) DEFAULT 'hours',
  random_enabled INTEGER NOT NULL DEFAULT 0,
  step_increment INTEGER NOT NULL DEFAULT 1000,
  step_min INTEGER NOT NULL DEFAULT 200,
  step_max INTEGER NOT NULL DEFAULT 500,
  window_start TEXT NOT NULL DEFAULT '06:00',
  window_end TEXT NOT NULL DEFAULT '22:00',
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS oauth_tokens (
  user_id TEXT PRIMARY KEY,
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL DEFAULT '',
  expiry DATETIME
);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	GetConfig(ctx context.Context, userID string) (domain.UserScheduleConfig, error)
	UpsertConfig(ctx context.Context, cfg domain.UserScheduleConfig) error
	ListUserIDs(ctx context.Context) ([]string, error)

	GetToken(ctx context.Context, userID string) (domain.OAuthToken, error)
	SaveToken(ctx context.Context, tok domain.OAuthToken) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) GetConfig(ctx context.Context, userID string) (domain.UserScheduleConfig, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT user_id, enabled, period, unit, random_enabled, step_increment, step_min, step_max, window_start, window_end, updated_at
FROM user_settings WHERE user_id = ?
`, userID)

	var (
		cfg        domain.UserScheduleConfig
		unit       string
		start, end string
	)
	err := row.Scan(&cfg.UserID, &cfg.Enabled, &cfg.Period, &unit, &cfg.Amount.Random,
		&cfg.Amount.Increment, &cfg.Amount.Min, &cfg.Amount.Max, &start, &end, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserScheduleConfig{}, fmt.Errorf("user %s: %w", userID, domain.ErrNoConfig)
	}
	if err != nil {
		return domain.UserScheduleConfig{}, err
	}
	cfg.Unit = domain.PeriodUnit(unit)

	if cfg.WindowStart, err = domain.ParseClock(start); err != nil {
		return domain.UserScheduleConfig{}, fmt.Errorf("window start for %s: %w", userID, err)
	}
	if cfg.WindowEnd, err = domain.ParseClock(end); err != nil {
		return domain.UserScheduleConfig{}, fmt.Errorf("window end for %s: %w", userID, err)
	}
	return cfg, nil
}

func (r *sqliteRepo) UpsertConfig(ctx context.Context, cfg domain.UserScheduleConfig) error {
	if cfg.Period < 1 {
		cfg.Period = 1
	}
	cfg.Amount = cfg.Amount.Normalize()

	_, err := r.db.ExecContext(ctx, `
INSERT INTO user_settings (user_id, enabled, period, unit, random_enabled, step_increment, step_min, step_max, window_start, window_end, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?, CURRENT_TIMESTAMP)
ON CONFLICT(user_id) DO UPDATE SET
  enabled=excluded.enabled,
  period=excluded.period,
  unit=excluded.unit,
  random_enabled=excluded.random_enabled,
  step_increment=excluded.step_increment,
  step_min=excluded.step_min,
  step_max=excluded.step_max,
  window_start=excluded.window_start,
  window_end=excluded.window_end,
  updated_at=CURRENT_TIMESTAMP
`, cfg.UserID, cfg.Enabled, cfg.Period, string(cfg.Unit), cfg.Amount.Random,
		cfg.Amount.Increment, cfg.Amount.Min, cfg.Amount.Max,
		cfg.WindowStart.String(), cfg.WindowEnd.String())
	return err
}

func (r *sqliteRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *sqliteRepo) GetToken(ctx context.Context, userID string) (domain.OAuthToken, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT user_id, access_token, refresh_token, expiry FROM oauth_tokens WHERE user_id = ?
`, userID)

	var (
		tok    domain.OAuthToken
		expiry sql.NullTime
	)
	err := row.Scan(&tok.UserID, &tok.AccessToken, &tok.RefreshToken, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OAuthToken{}, fmt.Errorf("token for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return domain.OAuthToken{}, err
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return tok, nil
}

func (r *sqliteRepo) SaveToken(ctx context.Context, tok domain.OAuthToken) error {
	var expiry any
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO oauth_tokens (user_id, access_token, refresh_token, expiry)
VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET
  access_token=excluded.access_token,
  refresh_token=excluded.refresh_token,
  expiry=excluded.expiry
`, tok.UserID, tok.AccessToken, tok.RefreshToken, expiry)
	return err
}
