package services

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/config"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
)

// Vault wires the services of one store together around a single Session.
type Vault struct {
	Session     *Session
	Keys        *KeyManager
	Credentials *CredentialStore
	TOTP        *TOTPService
	Recovery    *RecoveryService
	Backups     *BackupManager
	Auth        *AuthController
}

func NewVault(cfg *config.Config, log logging.Logger) *Vault {
	sess := NewSession()
	km := NewKeyManager(log.With("component", "keys"), cfg.AtomicRotation)
	backups := NewBackupManager(BackupOptions{
		StorePath: cfg.StorePath,
		Dir:       cfg.ResolvedBackupDir(),
		Prefix:    cfg.BackupPrefix,
		Retention: cfg.BackupRetention,
		Debounce:  cfg.BackupDebounce,
		Interval:  cfg.BackupInterval,
	}, filex.OS{}, log.With("component", "backup"))
	backups.SetGuard(sess.rotation.RLocker())

	totpSvc := NewTOTPService(sess, cfg.StorePath, cfg.TOTPIssuer, log.With("component", "totp"))
	recovery := NewRecoveryService(sess, cfg.StorePath, km, backups, log.With("component", "recovery"))
	auth := NewAuthController(AuthOptions{
		StorePath:   cfg.StorePath,
		KDF:         cfg.KDFParams(),
		EnforceTOTP: cfg.EnforceTOTP,
		IdleTimeout: cfg.IdleTimeout,
	}, sess, km, totpSvc, recovery, backups, log.With("component", "auth"))

	return &Vault{
		Session:     sess,
		Keys:        km,
		Credentials: NewCredentialStore(sess, km, backups, log.With("component", "credentials")),
		TOTP:        totpSvc,
		Recovery:    recovery,
		Backups:     backups,
		Auth:        auth,
	}
}

// Close flushes a pending snapshot and locks the vault.
func (v *Vault) Close(ctx context.Context) error {
	flushErr := v.Backups.Flush(ctx)
	if err := v.Auth.Lock(ctx); err != nil {
		return err
	}
	return flushErr
}
