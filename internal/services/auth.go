package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/repositories/master"
	"github.com/dmitrijs2005/gophvault/internal/repositories/questions"
	"github.com/dmitrijs2005/gophvault/internal/repositories/totpsettings"
	"github.com/dmitrijs2005/gophvault/internal/store"
)

// AuthOptions configures an AuthController.
type AuthOptions struct {
	StorePath   string
	KDF         cryptox.KDFParams
	EnforceTOTP bool
	IdleTimeout time.Duration
}

// AuthController owns the session state machine:
//
//	LOCKED --password--------------> AUTHENTICATED
//	LOCKED --totp------------------> PARTIALLY_OPEN
//	LOCKED --password+totp---------> AUTHENTICATED
//	PARTIALLY_OPEN --password------> AUTHENTICATED
//	any --lock/idle timeout--------> LOCKED
type AuthController struct {
	opts     AuthOptions
	sess     *Session
	km       *KeyManager
	totp     *TOTPService
	recovery *RecoveryService
	backups  *BackupManager
	log      logging.Logger

	// mu serializes state transitions.
	mu sync.Mutex

	idleMu sync.Mutex
	idle   *time.Timer
}

func NewAuthController(opts AuthOptions, sess *Session, km *KeyManager, totpSvc *TOTPService,
	recovery *RecoveryService, backups *BackupManager, log logging.Logger) *AuthController {
	return &AuthController{
		opts: opts, sess: sess, km: km, totp: totpSvc,
		recovery: recovery, backups: backups, log: log,
	}
}

func (c *AuthController) State() State { return c.sess.State() }

// readMaster loads the verification record through the session handle, or a
// read-only one while locked. A store without one is not set up.
func (c *AuthController) readMaster(ctx context.Context) (*models.MasterVerification, error) {
	var mv *models.MasterVerification
	read := func(ctx context.Context, db *sql.DB) error {
		var err error
		mv, err = master.NewSQLiteRepository(db).Get(ctx)
		return err
	}

	var err error
	if db, dbErr := c.sess.DB(); dbErr == nil {
		err = read(ctx, db)
	} else {
		err = store.WithReadOnly(ctx, c.opts.StorePath, read)
	}
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrNotInitialized
	}
	return mv, err
}

// IsSetUp reports whether the store exists and holds a master password.
func (c *AuthController) IsSetUp(ctx context.Context) (bool, error) {
	ok, err := store.Exists(c.opts.StorePath)
	if err != nil || !ok {
		return false, err
	}
	_, err = c.readMaster(ctx)
	if errors.Is(err, common.ErrNotInitialized) {
		return false, nil
	}
	// a file from an unrelated program or a truncated store
	if err != nil {
		c.log.Warn(ctx, "store exists but cannot be read", "error", err)
		return false, err
	}
	return true, nil
}

// Setup creates the store with its master password and security questions,
// TOTP disabled, and leaves the session AUTHENTICATED.
func (c *AuthController) Setup(ctx context.Context, password []byte, answers []models.QuestionAnswer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(password) == 0 {
		return fmt.Errorf("%w: password must not be empty", common.ErrorValidation)
	}
	if err := validateAnswers(answers); err != nil {
		return err
	}
	done, err := c.IsSetUp(ctx)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: vault is already set up", common.ErrAlreadyExists)
	}

	db, err := store.Open(ctx, c.opts.StorePath)
	if err != nil {
		return err
	}

	mv, key := c.km.NewVerification(password, c.opts.KDF)
	qs := buildQuestions(answers, mv.KDF)
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := master.NewSQLiteRepository(tx).Replace(ctx, mv); err != nil {
			return err
		}
		if err := questions.NewSQLiteRepository(tx).ReplaceAll(ctx, qs); err != nil {
			return err
		}
		return totpsettings.NewSQLiteRepository(tx).Save(ctx, &models.TOTPSettings{UpdatedAt: mv.CreatedAt})
	})
	if err != nil {
		key.Zero()
		_ = db.Close()
		return err
	}

	c.sess.open(db, key)
	c.log.Info(ctx, "vault created", "path", c.opts.StorePath, "questions", len(qs))
	c.Touch()

	if _, err := c.backups.Snapshot(ctx); err != nil {
		c.log.Warn(ctx, "initial snapshot failed", "error", err)
	}
	return nil
}

// checkPassword verifies password and derives the candidate key. The caller
// owns the returned key.
func (c *AuthController) checkPassword(ctx context.Context, password []byte) (cryptox.Key, error) {
	mv, err := c.readMaster(ctx)
	if err != nil {
		return nil, err
	}
	if !c.km.VerifyPassword(password, mv) {
		c.log.Warn(ctx, "wrong master password")
		return nil, common.ErrInvalidCredential
	}
	return c.km.DeriveKey(password, mv), nil
}

// commit installs key into the session, opening the primary handle when the
// vault was locked.
func (c *AuthController) commit(ctx context.Context, key cryptox.Key) error {
	if c.sess.State() == StateLocked {
		db, err := store.Open(ctx, c.opts.StorePath)
		if err != nil {
			key.Zero()
			return err
		}
		c.sess.open(db, key)
	} else if err := c.sess.setKey(key); err != nil {
		return err
	}
	c.Touch()
	return nil
}

// SubmitPassword authenticates with the master password alone. From LOCKED
// with EnforceTOTP set and TOTP enabled it fails with
// common.ErrSecondFactorReq.
func (c *AuthController) SubmitPassword(ctx context.Context, password []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.checkPassword(ctx, password)
	if err != nil {
		return err
	}

	if c.opts.EnforceTOTP && c.sess.State() == StateLocked {
		on, err := c.totp.IsEnabledWithoutSession(ctx)
		if err != nil || on {
			key.Zero()
			if err != nil {
				return err
			}
			return common.ErrSecondFactorReq
		}
	}

	if err := c.commit(ctx, key); err != nil {
		return err
	}
	c.log.Info(ctx, "unlocked with password", "state", c.sess.State().String())
	return nil
}

// SubmitTOTP opens the vault with a one-time code alone. The result is
// PARTIALLY_OPEN: records can be listed without their passwords. In an open
// session the code is still checked but the state does not change.
func (c *AuthController) SubmitTOTP(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	on, err := c.totp.IsEnabledWithoutSession(ctx)
	if err != nil {
		return err
	}
	if !on {
		return common.ErrNotInitialized
	}
	ok, err := c.totp.Verify(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Warn(ctx, "wrong totp code")
		return common.ErrInvalidCredential
	}
	if c.sess.State() != StateLocked {
		c.Touch()
		return nil
	}

	db, err := store.Open(ctx, c.opts.StorePath)
	if err != nil {
		return err
	}
	c.sess.open(db, nil)
	c.Touch()
	c.log.Info(ctx, "unlocked with totp", "state", c.sess.State().String())
	return nil
}

// SubmitPasswordAndTOTP requires both factors. Nothing changes unless both
// verify.
func (c *AuthController) SubmitPasswordAndTOTP(ctx context.Context, password []byte, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.checkPassword(ctx, password)
	if err != nil {
		return err
	}
	ok, err := c.totp.Verify(ctx, code)
	if err != nil || !ok {
		key.Zero()
		if err != nil {
			return err
		}
		c.log.Warn(ctx, "wrong totp code")
		return common.ErrInvalidCredential
	}

	if err := c.commit(ctx, key); err != nil {
		return err
	}
	c.log.Info(ctx, "unlocked with password and totp")
	return nil
}

// Lock zeroes the key, closes the store and returns to LOCKED. It waits for
// a running rotation to finish.
func (c *AuthController) Lock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockLocked(ctx, "explicit")
}

func (c *AuthController) lockLocked(ctx context.Context, reason string) error {
	c.stopIdle()

	c.sess.rotation.Lock()
	defer c.sess.rotation.Unlock()

	was := c.sess.State()
	if err := c.sess.close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if was != StateLocked {
		c.log.Info(ctx, "vault locked", "reason", reason)
	}
	return nil
}

// Touch records user activity and restarts the inactivity timer.
func (c *AuthController) Touch() {
	if c.opts.IdleTimeout <= 0 || c.sess.State() == StateLocked {
		return
	}
	c.idleMu.Lock()
	defer c.idleMu.Unlock()

	if c.idle != nil {
		c.idle.Stop()
	}
	c.idle = time.AfterFunc(c.opts.IdleTimeout, func() {
		ctx := context.Background()
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.lockLocked(ctx, "idle timeout"); err != nil {
			c.log.Error(ctx, "auto-lock failed", "error", err)
		}
	})
}

func (c *AuthController) stopIdle() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}

// VerifyMasterPassword reports whether password is the current master
// password, without changing state.
func (c *AuthController) VerifyMasterPassword(ctx context.Context, password []byte) (bool, error) {
	mv, err := c.readMaster(ctx)
	if err != nil {
		return false, err
	}
	return c.km.VerifyPassword(password, mv), nil
}

// ChangeMasterPassword re-encrypts every record under a key derived from
// newPassword and replaces the verification record.
func (c *AuthController) ChangeMasterPassword(ctx context.Context, oldPassword, newPassword []byte) (RotationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.State() != StateAuthenticated {
		return RotationResult{}, common.ErrNotInitialized
	}
	if len(newPassword) == 0 {
		return RotationResult{}, fmt.Errorf("%w: password must not be empty", common.ErrorValidation)
	}
	mv, err := c.readMaster(ctx)
	if err != nil {
		return RotationResult{}, err
	}
	if !c.km.VerifyPassword(oldPassword, mv) {
		c.log.Warn(ctx, "password change refused: wrong current password")
		return RotationResult{}, common.ErrInvalidCredential
	}

	if _, err := c.backups.SnapshotBefore(ctx, "change"); err != nil {
		return RotationResult{}, err
	}

	newMV, newKey := c.km.NewVerification(newPassword, mv.KDF)
	res, err := c.km.rekey(ctx, c.sess, newKey, newMV, swapAfterRotation)
	if err != nil {
		return res, err
	}
	c.Touch()
	c.log.Info(ctx, "master password changed", "records", res.Total)
	return res, nil
}

// ResetPassword resets the master password from recovery answers.
func (c *AuthController) ResetPassword(ctx context.Context, newPassword []byte, answers []models.QuestionAnswer) (RotationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.recovery.ResetPassword(ctx, newPassword, answers)
	if err == nil {
		c.Touch()
	}
	return res, err
}

// RestoreBackup locks the vault and replaces the store with the backup at
// path. The user has to authenticate again with the password the backup
// expects.
func (c *AuthController) RestoreBackup(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backups.Flush(ctx); err != nil {
		c.log.Warn(ctx, "pending snapshot failed before restore", "error", err)
	}
	if err := c.lockLocked(ctx, "restore"); err != nil {
		return err
	}
	return c.backups.RestoreFrom(ctx, path)
}
