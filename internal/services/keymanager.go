package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/repositories/accounts"
	"github.com/dmitrijs2005/gophvault/internal/repositories/master"
)

// RotationResult counts the records re-encrypted by a rotation.
type RotationResult struct {
	Rotated int
	Total   int
}

// swapOrder says when a non-atomic re-key replaces the verification record.
type swapOrder int

const (
	// swapAfterRotation: a failed cascade leaves the old password valid.
	swapAfterRotation swapOrder = iota
	// swapBeforeRotation: the verification record changes first, so a failed
	// cascade leaves the new password valid over partly re-keyed records.
	swapBeforeRotation
)

// KeyManager derives keys, encrypts single fields and re-keys the whole
// store.
type KeyManager struct {
	log            logging.Logger
	now            func() time.Time
	atomicRotation bool
	accountsRepo   func(dbx.DBTX) accounts.Repository
}

func NewKeyManager(log logging.Logger, atomicRotation bool) *KeyManager {
	return &KeyManager{
		log:            log,
		now:            time.Now,
		atomicRotation: atomicRotation,
		accountsRepo:   func(db dbx.DBTX) accounts.Repository { return accounts.NewSQLiteRepository(db) },
	}
}

// DeriveKey derives the session key for password with the store's key salt
// and KDF parameters.
func (m *KeyManager) DeriveKey(password []byte, mv *models.MasterVerification) cryptox.Key {
	return cryptox.DeriveKey(password, mv.KeySalt, mv.KDF)
}

// NewVerification builds a fresh verification record for password, with new
// salts, and returns it with the key it unlocks.
func (m *KeyManager) NewVerification(password []byte, kdf cryptox.KDFParams) (*models.MasterVerification, cryptox.Key) {
	mv := &models.MasterVerification{
		Salt:      common.GenerateRandByteArray(cryptox.SaltSize),
		KeySalt:   common.GenerateRandByteArray(cryptox.SaltSize),
		KDF:       kdf,
		CreatedAt: m.now(),
	}
	mv.VerificationHash = cryptox.HashSecret(password, mv.Salt, kdf)
	return mv, m.DeriveKey(password, mv)
}

// VerifyPassword checks password against the verification record.
func (m *KeyManager) VerifyPassword(password []byte, mv *models.MasterVerification) bool {
	return cryptox.VerifySecret(password, mv.Salt, mv.VerificationHash, mv.KDF)
}

func (m *KeyManager) Encrypt(plaintext string, key cryptox.Key) (string, error) {
	return cryptox.EncryptField(plaintext, key)
}

func (m *KeyManager) Decrypt(ciphertext string, key cryptox.Key) (string, error) {
	return cryptox.DecryptField(ciphertext, key)
}

// Rotate re-encrypts every record of repo from oldKey to newKey, one record
// at a time. It stops on the first failure and returns a
// *common.PartialRotationError with the progress made.
func (m *KeyManager) Rotate(ctx context.Context, repo accounts.Repository, oldKey, newKey cryptox.Key) (RotationResult, error) {
	ids, err := repo.ListIDs(ctx)
	if err != nil {
		return RotationResult{}, &common.PartialRotationError{Err: err}
	}

	res := RotationResult{Total: len(ids)}
	fail := func(err error) (RotationResult, error) {
		return res, &common.PartialRotationError{Rotated: res.Rotated, Remaining: res.Total - res.Rotated, Err: err}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		acc, err := repo.GetByID(ctx, id)
		if err != nil {
			return fail(fmt.Errorf("load %s: %w", id, err))
		}
		plain, err := m.Decrypt(acc.Password, oldKey)
		if err != nil {
			return fail(fmt.Errorf("decrypt %s: %w", id, err))
		}
		ct, err := m.Encrypt(plain, newKey)
		if err != nil {
			return fail(fmt.Errorf("encrypt %s: %w", id, err))
		}
		if err := repo.UpdatePassword(ctx, id, ct, m.now()); err != nil {
			return fail(fmt.Errorf("persist %s: %w", id, err))
		}
		res.Rotated++
	}
	return res, nil
}

// rekey moves sess from its current key to newKey: every record is
// re-encrypted and the verification record is replaced by mv. On success the
// session holds newKey. On failure the session keeps its old key, newKey is
// zeroed and the error is a *common.PartialRotationError.
func (m *KeyManager) rekey(ctx context.Context, sess *Session, newKey cryptox.Key, mv *models.MasterVerification, order swapOrder) (RotationResult, error) {
	sess.rotation.Lock()
	defer sess.rotation.Unlock()

	db, oldKey, err := sess.requireAuthenticated()
	if err != nil {
		newKey.Zero()
		return RotationResult{}, err
	}
	defer oldKey.Zero()

	var res RotationResult
	if m.atomicRotation {
		res, err = m.rekeyAtomic(ctx, db, oldKey, newKey, mv)
	} else {
		res, err = m.rekeyStepwise(ctx, db, oldKey, newKey, mv, order)
	}
	if err != nil {
		newKey.Zero()
		m.log.Error(ctx, "key rotation failed", "rotated", res.Rotated, "total", res.Total, "atomic", m.atomicRotation, "error", err)
		return res, err
	}

	if err := sess.setKey(newKey); err != nil {
		return res, err
	}
	m.log.Info(ctx, "key rotated", "records", res.Total, "atomic", m.atomicRotation)
	return res, nil
}

func (m *KeyManager) rekeyAtomic(ctx context.Context, db *sql.DB, oldKey, newKey cryptox.Key, mv *models.MasterVerification) (RotationResult, error) {
	res, err := dbx.WithTxResult(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) (RotationResult, error) {
		res, err := m.Rotate(ctx, m.accountsRepo(tx), oldKey, newKey)
		if err != nil {
			return res, err
		}
		if err := master.NewSQLiteRepository(tx).Replace(ctx, mv); err != nil {
			return res, &common.PartialRotationError{Rotated: res.Rotated, Err: err}
		}
		return res, nil
	})
	if err == nil {
		return res, nil
	}

	// nothing was committed
	cause := err
	var inner *common.PartialRotationError
	if errors.As(err, &inner) {
		cause = inner.Err
	}
	return RotationResult{Total: res.Total}, &common.PartialRotationError{Remaining: res.Total, RolledBack: true, Err: cause}
}

func (m *KeyManager) rekeyStepwise(ctx context.Context, db *sql.DB, oldKey, newKey cryptox.Key, mv *models.MasterVerification, order swapOrder) (RotationResult, error) {
	mr := master.NewSQLiteRepository(db)

	if order == swapBeforeRotation {
		if err := mr.Replace(ctx, mv); err != nil {
			return RotationResult{}, fmt.Errorf("replace verification record: %w", err)
		}
	}

	res, err := m.Rotate(ctx, m.accountsRepo(db), oldKey, newKey)
	if err != nil {
		return res, err
	}

	if order == swapAfterRotation {
		if err := mr.Replace(ctx, mv); err != nil {
			return m.rotateBack(ctx, db, oldKey, newKey, res, fmt.Errorf("replace verification record: %w", err))
		}
	}
	return res, nil
}

// rotateBack returns every record to oldKey after the verification record
// could not be swapped, so the old password keeps opening the store.
func (m *KeyManager) rotateBack(ctx context.Context, db *sql.DB, oldKey, newKey cryptox.Key, res RotationResult, cause error) (RotationResult, error) {
	back, err := m.Rotate(ctx, m.accountsRepo(db), newKey, oldKey)
	if err != nil {
		m.log.Error(ctx, "restoring records to the previous key failed", "restored", back.Rotated, "total", back.Total, "error", err)
		left := res.Total - back.Rotated
		return RotationResult{Rotated: left, Total: res.Total},
			&common.PartialRotationError{Rotated: left, Remaining: res.Total - left, Err: cause}
	}
	return RotationResult{Total: res.Total},
		&common.PartialRotationError{Remaining: res.Total, RolledBack: true, Err: cause}
}
