package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/repositories/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStore_CRUD(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	sched := &countingScheduler{}
	v.Credentials.scheduler = sched

	added, err := v.Credentials.Add(ctx, models.AccountInput{Name: "Email", Username: "a@b.com", Password: "hunter2", Website: "mail.example"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "hunter2", added.Password)

	db, err := v.Session.DB()
	require.NoError(t, err)
	raw, err := accounts.NewSQLiteRepository(db).GetByID(ctx, added.ID)
	require.NoError(t, err)
	assert.NotContains(t, raw.Password, "hunter2")
	assert.Contains(t, raw.Password, ":")

	got, err := v.Credentials.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)
	assert.Equal(t, "mail.example", got.Website)

	upd, err := v.Credentials.Update(ctx, added.ID, models.AccountInput{Name: "Email", Username: "a@b.com", Password: "hunter3", Notes: "changed"})
	require.NoError(t, err)
	assert.Equal(t, "hunter3", upd.Password)

	raw2, err := accounts.NewSQLiteRepository(db).GetByID(ctx, added.ID)
	require.NoError(t, err)
	assert.NotEqual(t, raw.Password, raw2.Password)

	require.NoError(t, v.Credentials.Delete(ctx, added.ID))
	_, err = v.Credentials.Get(ctx, added.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, v.Credentials.Delete(ctx, added.ID), common.ErrorNotFound)

	assert.Equal(t, 3, sched.count(), "one notification per successful mutation")
}

func TestCredentialStore_ListOrderedByName(t *testing.T) {
	v := setupVault(t)
	for _, n := range []string{"zeta", "Alpha", "beta"} {
		addAccount(t, v, n, "pw-"+n)
	}

	res, err := v.Credentials.List(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Accounts, 3)
	assert.Equal(t, "Alpha", res.Accounts[0].Name)
	assert.Equal(t, "beta", res.Accounts[1].Name)
	assert.Equal(t, "zeta", res.Accounts[2].Name)
	assert.Equal(t, "pw-beta", res.Accounts[1].Password)
	assert.Empty(t, res.Skipped)
}

func TestCredentialStore_ListSkipsUndecryptable(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	addAccount(t, v, "good", "pw")

	db, err := v.Session.DB()
	require.NoError(t, err)
	now := time.Now()
	bad := &models.Account{ID: "bad-1", Name: "bad", Password: "00:11", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, accounts.NewSQLiteRepository(db).Create(ctx, bad))

	res, err := v.Credentials.List(ctx)
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	assert.Equal(t, "good", res.Accounts[0].Name)
	assert.Equal(t, []string{"bad-1"}, res.Skipped)

	_, err = v.Credentials.Get(ctx, "bad-1")
	assert.ErrorIs(t, err, common.ErrDecryption)
}

func TestCredentialStore_Validation(t *testing.T) {
	v := setupVault(t)
	_, err := v.Credentials.Add(context.Background(), models.AccountInput{Name: "  ", Password: "x"})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestCredentialStore_RequiresAuthenticated(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	a := addAccount(t, v, "x", "y")
	require.NoError(t, v.Auth.Lock(ctx))

	_, err := v.Credentials.List(ctx)
	assert.ErrorIs(t, err, common.ErrNotInitialized)
	_, err = v.Credentials.Get(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrNotInitialized)
	_, err = v.Credentials.Add(ctx, models.AccountInput{Name: "n", Password: "p"})
	assert.ErrorIs(t, err, common.ErrNotInitialized)
	_, err = v.Credentials.Update(ctx, a.ID, models.AccountInput{Name: "n", Password: "p"})
	assert.ErrorIs(t, err, common.ErrNotInitialized)
	assert.ErrorIs(t, v.Credentials.Delete(ctx, a.ID), common.ErrNotInitialized)
	_, err = v.Credentials.ListMetadata(ctx)
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}

func TestCredentialStore_MutationWaitsForRotation(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	v.Session.rotation.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := v.Credentials.Add(ctx, models.AccountInput{Name: "late", Password: "p"})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("add must not run while a rotation holds the session")
	case <-time.After(100 * time.Millisecond):
	}

	v.Session.rotation.Unlock()
	require.NoError(t, <-done)
}
