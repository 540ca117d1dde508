package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/config"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

const testPassword = "Correct7!"

// setupScript creates a vault with one security question.
var setupScript = []string{
	"setup",
	testPassword,
	testPassword,
	"First pet?",
	"Rex",
	"",
}

// pipedInput makes GetPassword read from the script instead of a terminal.
func pipedInput(t *testing.T) {
	t.Helper()
	old := isTerminal
	isTerminal = func(int) bool { return false }
	t.Cleanup(func() { isTerminal = old })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	var cfg config.Config
	cfg.LoadDefaults()
	dir := t.TempDir()
	cfg.StorePath = filepath.Join(dir, "vault.db")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.QRDir = dir
	cfg.KDFTime, cfg.KDFMemoryKiB, cfg.KDFThreads = 1, 1024, 1
	cfg.BackupDebounce = time.Hour
	cfg.BackupInterval = 0
	cfg.IdleTimeout = 0
	cfg.LogFile = ""
	return &cfg
}

// runScript runs a fresh App over cfg with the given input lines and returns
// everything it printed.
func runScript(t *testing.T, cfg *config.Config, lines ...string) string {
	t.Helper()
	pipedInput(t)

	var out bytes.Buffer
	a := NewApp(cfg, logging.Nop(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	require.NoError(t, a.Run(context.Background()))
	return out.String()
}

// openVault unlocks a separate vault over cfg for assertions.
func openVault(t *testing.T, cfg *config.Config) *services.Vault {
	t.Helper()
	v := services.NewVault(cfg, logging.Nop())
	require.NoError(t, v.Auth.SubmitPassword(context.Background(), []byte(testPassword)))
	t.Cleanup(func() { _ = v.Close(context.Background()) })
	return v
}

// onlyAccountID returns the id of the single stored account.
func onlyAccountID(t *testing.T, cfg *config.Config) string {
	t.Helper()
	v := services.NewVault(cfg, logging.Nop())
	defer func() { _ = v.Close(context.Background()) }()
	require.NoError(t, v.Auth.SubmitPassword(context.Background(), []byte(testPassword)))
	res, err := v.Credentials.List(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	return res.Accounts[0].ID
}

func script(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// addScript adds an account named github.
var addScript = []string{
	"add",
	"github",
	"octo",
	"https://github.com",
	"gh-secret",
	"line one",
	"",
}
