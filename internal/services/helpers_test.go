package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/config"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// testConfig returns a config rooted in a temp dir with a cheap KDF and no
// background timers.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	var cfg config.Config
	cfg.LoadDefaults()
	dir := t.TempDir()
	cfg.StorePath = filepath.Join(dir, "vault.db")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.KDFTime, cfg.KDFMemoryKiB, cfg.KDFThreads = 1, 1024, 1
	cfg.BackupDebounce = time.Hour
	cfg.IdleTimeout = 0
	return &cfg
}

func newTestVault(t *testing.T, mutate ...func(*config.Config)) *Vault {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}
	v := NewVault(cfg, logging.Nop())
	t.Cleanup(func() {
		v.Backups.timerMu.Lock()
		if v.Backups.timer != nil {
			v.Backups.timer.Stop()
		}
		v.Backups.timerMu.Unlock()
		_ = v.Auth.Lock(context.Background())
	})
	return v
}

var defaultAnswers = []models.QuestionAnswer{
	{QuestionID: "1", Question: "First pet?", Answer: "Rex"},
	{QuestionID: "2", Question: "Birth city?", Answer: "Boston"},
}

// setupVault creates a store with password "Correct7!" and the default
// answers, leaving the session AUTHENTICATED.
func setupVault(t *testing.T, mutate ...func(*config.Config)) *Vault {
	t.Helper()
	v := newTestVault(t, mutate...)
	require.NoError(t, v.Auth.Setup(context.Background(), []byte("Correct7!"), defaultAnswers))
	return v
}

func addAccount(t *testing.T, v *Vault, name, password string) *models.AccountView {
	t.Helper()
	a, err := v.Credentials.Add(context.Background(), models.AccountInput{Name: name, Username: name + "@example.com", Password: password})
	require.NoError(t, err)
	return a
}

func passwords(t *testing.T, v *Vault) map[string]string {
	t.Helper()
	res, err := v.Credentials.List(context.Background())
	require.NoError(t, err)
	out := make(map[string]string, len(res.Accounts))
	for _, a := range res.Accounts {
		out[a.Name] = a.Password
	}
	return out
}

type countingScheduler struct {
	mu sync.Mutex
	n  int
}

func (c *countingScheduler) ScheduleSnapshot() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingScheduler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
