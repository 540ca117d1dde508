package totpsettings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context) (*models.TOTPSettings, error) {
	var (
		secret  sql.NullString
		enabled bool
		s       models.TOTPSettings
	)
	err := r.db.QueryRowContext(ctx, `SELECT secret, enabled, updated_at FROM totp_settings WHERE id = 1`).
		Scan(&secret, &enabled, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.TOTPSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get totp settings: %w", err)
	}
	s.Secret = secret.String
	s.Enabled = enabled && secret.Valid && secret.String != ""
	return &s, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.TOTPSettings) error {
	secret := sql.NullString{String: s.Secret, Valid: s.Secret != ""}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO totp_settings (id, secret, enabled, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			secret = excluded.secret,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, secret, s.Enabled, s.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save totp settings: %w", err)
	}
	return nil
}
