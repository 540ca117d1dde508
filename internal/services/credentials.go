package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/repositories/accounts"
	"github.com/google/uuid"
)

// SnapshotScheduler is notified after every successful record mutation.
type SnapshotScheduler interface {
	ScheduleSnapshot()
}

// ListResult is the outcome of listing credentials. Records that could not
// be decrypted are left out of Accounts and counted by ID in Skipped.
type ListResult struct {
	Accounts []models.AccountView
	Skipped  []string
}

// CredentialStore is CRUD over credential records. Only the password field
// is encrypted, with the key of the bound session.
type CredentialStore struct {
	sess      *Session
	km        *KeyManager
	scheduler SnapshotScheduler
	log       logging.Logger
	now       func() time.Time
	repo      func(dbx.DBTX) accounts.Repository
}

func NewCredentialStore(sess *Session, km *KeyManager, scheduler SnapshotScheduler, log logging.Logger) *CredentialStore {
	return &CredentialStore{
		sess:      sess,
		km:        km,
		scheduler: scheduler,
		log:       log,
		now:       time.Now,
		repo:      func(db dbx.DBTX) accounts.Repository { return accounts.NewSQLiteRepository(db) },
	}
}

func (s *CredentialStore) view(a models.Account, key cryptox.Key) (models.AccountView, error) {
	plain, err := s.km.Decrypt(a.Password, key)
	if err != nil {
		return models.AccountView{}, err
	}
	return models.AccountView{
		ID: a.ID, Name: a.Name, Username: a.Username, Password: plain,
		Website: a.Website, Notes: a.Notes, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}, nil
}

// List returns every record with its password decrypted, ordered by name.
func (s *CredentialStore) List(ctx context.Context) (ListResult, error) {
	db, key, err := s.sess.requireAuthenticated()
	if err != nil {
		return ListResult{}, err
	}
	defer key.Zero()

	list, err := s.repo(db).List(ctx)
	if err != nil {
		return ListResult{}, err
	}

	res := ListResult{Accounts: make([]models.AccountView, 0, len(list))}
	for _, a := range list {
		v, err := s.view(a, key)
		if err != nil {
			s.log.Warn(ctx, "skipping undecryptable record", "id", a.ID, "error", err)
			res.Skipped = append(res.Skipped, a.ID)
			continue
		}
		res.Accounts = append(res.Accounts, v)
	}
	return res, nil
}

// ListMetadata returns every record without its password. It works in a
// partially open session.
func (s *CredentialStore) ListMetadata(ctx context.Context) ([]models.AccountMeta, error) {
	db, err := s.sess.DB()
	if err != nil {
		return nil, err
	}
	list, err := s.repo(db).List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.AccountMeta, 0, len(list))
	for _, a := range list {
		out = append(out, a.Meta())
	}
	return out, nil
}

// Get returns one record with its password decrypted.
func (s *CredentialStore) Get(ctx context.Context, id string) (*models.AccountView, error) {
	db, key, err := s.sess.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	a, err := s.repo(db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := s.view(*a, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func validateInput(in models.AccountInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", common.ErrorValidation)
	}
	return nil
}

// Add encrypts the password of in and stores a new record.
func (s *CredentialStore) Add(ctx context.Context, in models.AccountInput) (*models.AccountView, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	s.sess.rotation.RLock()
	defer s.sess.rotation.RUnlock()

	db, key, err := s.sess.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	ct, err := s.km.Encrypt(in.Password, key)
	if err != nil {
		return nil, err
	}
	now := s.now()
	a := &models.Account{
		ID: uuid.NewString(), Name: strings.TrimSpace(in.Name), Username: in.Username, Password: ct,
		Website: in.Website, Notes: in.Notes, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.repo(db).Create(ctx, a); err != nil {
		return nil, err
	}
	s.mutated(ctx, "add", a.ID)

	v, err := s.view(*a, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Update replaces the fields of record id, re-encrypting the password under
// the active key.
func (s *CredentialStore) Update(ctx context.Context, id string, in models.AccountInput) (*models.AccountView, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	s.sess.rotation.RLock()
	defer s.sess.rotation.RUnlock()

	db, key, err := s.sess.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	repo := s.repo(db)
	a, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ct, err := s.km.Encrypt(in.Password, key)
	if err != nil {
		return nil, err
	}
	a.Name, a.Username, a.Password = strings.TrimSpace(in.Name), in.Username, ct
	a.Website, a.Notes, a.UpdatedAt = in.Website, in.Notes, s.now()

	if err := repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.mutated(ctx, "update", id)

	v, err := s.view(*a, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Delete removes record id.
func (s *CredentialStore) Delete(ctx context.Context, id string) error {
	s.sess.rotation.RLock()
	defer s.sess.rotation.RUnlock()

	db, key, err := s.sess.requireAuthenticated()
	if err != nil {
		return err
	}
	key.Zero()

	if err := s.repo(db).Delete(ctx, id); err != nil {
		return err
	}
	s.mutated(ctx, "delete", id)
	return nil
}

func (s *CredentialStore) mutated(ctx context.Context, op, id string) {
	s.log.Debug(ctx, "account changed", "op", op, "id", id)
	if s.scheduler != nil {
		s.scheduler.ScheduleSnapshot()
	}
}
