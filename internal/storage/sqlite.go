package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shohag/risebridge/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS installations (
			instance_id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			token_type TEXT NOT NULL DEFAULT 'Bearer',
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_installations_expires ON installations(expires_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Timestamps are stored as epoch milliseconds.

func (s *SQLiteStorage) Put(ctx context.Context, inst *models.Installation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installations (instance_id, access_token, token_type, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(instance_id) DO UPDATE SET
			access_token = excluded.access_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		inst.InstanceID, inst.AccessToken, inst.TokenType,
		inst.ExpiresAt.UnixMilli(), inst.CreatedAt.UnixMilli(), inst.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStorage) scanInstallation(row interface{ Scan(...interface{}) error }) (*models.Installation, error) {
	var inst models.Installation
	var expiresAt, createdAt, updatedAt int64
	if err := row.Scan(&inst.InstanceID, &inst.AccessToken, &inst.TokenType, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inst.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	inst.CreatedAt = time.UnixMilli(createdAt).UTC()
	inst.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &inst, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, instanceID string) (*models.Installation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT instance_id, access_token, token_type, expires_at, created_at, updated_at FROM installations WHERE instance_id = ?`, instanceID)
	inst, err := s.scanInstallation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

func (s *SQLiteStorage) Delete(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM installations WHERE instance_id = ?`, instanceID)
	return err
}

func (s *SQLiteStorage) List(ctx context.Context) ([]models.Installation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, access_token, token_type, expires_at, created_at, updated_at FROM installations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var installations []models.Installation
	for rows.Next() {
		inst, err := s.scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		installations = append(installations, *inst)
	}
	return installations, rows.Err()
}
