package master

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context) (*models.MasterVerification, error) {
	query := `SELECT verification_hash, salt, key_salt, kdf_time, kdf_memory, kdf_threads, created_at
		FROM master_verification WHERE id = 1`

	mv := &models.MasterVerification{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&mv.VerificationHash, &mv.Salt, &mv.KeySalt,
		&mv.KDF.Time, &mv.KDF.MemoryKiB, &mv.KDF.Threads, &mv.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get master verification: %w", err)
	}
	return mv, nil
}

func (r *SQLiteRepository) Replace(ctx context.Context, mv *models.MasterVerification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO master_verification (id, verification_hash, salt, key_salt, kdf_time, kdf_memory, kdf_threads, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			verification_hash = excluded.verification_hash,
			salt = excluded.salt,
			key_salt = excluded.key_salt,
			kdf_time = excluded.kdf_time,
			kdf_memory = excluded.kdf_memory,
			kdf_threads = excluded.kdf_threads,
			created_at = excluded.created_at
	`, mv.VerificationHash, mv.Salt, mv.KeySalt, mv.KDF.Time, mv.KDF.MemoryKiB, mv.KDF.Threads, mv.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to replace master verification: %w", err)
	}
	return nil
}
