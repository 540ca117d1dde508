package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/repositories/totpsettings"
	"github.com/dmitrijs2005/gophvault/internal/store"
	"github.com/dmitrijs2005/gophvault/internal/totp"
)

// TOTPEnrollment is what the user needs to register the vault in an
// authenticator app.
type TOTPEnrollment struct {
	Secret string
	URI    string
	QRCode []byte
}

// TOTPService manages the second factor. Checks made before a session exists
// go through a short-lived read-only handle on the store file.
type TOTPService struct {
	sess      *Session
	storePath string
	issuer    string
	log       logging.Logger
	now       func() time.Time
}

func NewTOTPService(sess *Session, storePath, issuer string, log logging.Logger) *TOTPService {
	return &TOTPService{sess: sess, storePath: storePath, issuer: issuer, log: log, now: time.Now}
}

// Enable generates a new secret and turns the second factor on. Any previous
// secret stops working.
func (s *TOTPService) Enable(ctx context.Context) (*TOTPEnrollment, error) {
	db, key, err := s.sess.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	key.Zero()

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri, err := totp.ProvisioningURI(s.issuer, secret)
	if err != nil {
		return nil, err
	}
	png, err := totp.QRCodePNG(uri)
	if err != nil {
		return nil, err
	}

	err = totpsettings.NewSQLiteRepository(db).Save(ctx, &models.TOTPSettings{Secret: secret, Enabled: true, UpdatedAt: s.now()})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "totp enabled")
	return &TOTPEnrollment{Secret: secret, URI: uri, QRCode: png}, nil
}

// Disable turns the second factor off and forgets the secret.
func (s *TOTPService) Disable(ctx context.Context) error {
	db, key, err := s.sess.requireAuthenticated()
	if err != nil {
		return err
	}
	key.Zero()

	if err := totpsettings.NewSQLiteRepository(db).Save(ctx, &models.TOTPSettings{UpdatedAt: s.now()}); err != nil {
		return err
	}
	s.log.Info(ctx, "totp disabled")
	return nil
}

// Status returns the current settings with the secret removed.
func (s *TOTPService) Status(ctx context.Context) (*models.TOTPSettings, error) {
	db, err := s.sess.DB()
	if err != nil {
		return nil, err
	}
	st, err := totpsettings.NewSQLiteRepository(db).Get(ctx)
	if err != nil {
		return nil, err
	}
	return &models.TOTPSettings{Enabled: st.Enabled, UpdatedAt: st.UpdatedAt}, nil
}

// settings reads the settings through the session handle when one is open,
// through a read-only handle otherwise. A missing store reports TOTP off.
func (s *TOTPService) settings(ctx context.Context) (*models.TOTPSettings, error) {
	if db, err := s.sess.DB(); err == nil {
		return totpsettings.NewSQLiteRepository(db).Get(ctx)
	}

	var st *models.TOTPSettings
	err := store.WithReadOnly(ctx, s.storePath, func(ctx context.Context, db *sql.DB) error {
		var err error
		st, err = totpsettings.NewSQLiteRepository(db).Get(ctx)
		return err
	})
	if errors.Is(err, common.ErrNotInitialized) {
		return &models.TOTPSettings{}, nil
	}
	return st, err
}

// IsEnabledWithoutSession reports whether the second factor is on. No
// session key is needed.
func (s *TOTPService) IsEnabledWithoutSession(ctx context.Context) (bool, error) {
	st, err := s.settings(ctx)
	if err != nil {
		return false, err
	}
	return st.Enabled, nil
}

// Verify checks code against the stored secret at the current time.
func (s *TOTPService) Verify(ctx context.Context, code string) (bool, error) {
	return s.VerifyAt(ctx, code, s.now())
}

// VerifyAt checks code against the stored secret at time t. With TOTP
// disabled every code is rejected with common.ErrNotInitialized.
func (s *TOTPService) VerifyAt(ctx context.Context, code string, t time.Time) (bool, error) {
	st, err := s.settings(ctx)
	if err != nil {
		return false, err
	}
	if !st.Enabled {
		return false, common.ErrNotInitialized
	}
	return totp.VerifyAt(code, st.Secret, t), nil
}
