package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/spf13/pflag"
)

// Config holds runtime settings for the vault.
//
// Units: every interval is a time.Duration; KDFMemoryKiB is in KiB.
type Config struct {
	StorePath string `env:"GOPHVAULT_STORE_PATH"`

	BackupDir       string        `env:"GOPHVAULT_BACKUP_DIR"`
	BackupPrefix    string        `env:"GOPHVAULT_BACKUP_PREFIX"`
	BackupRetention int           `env:"GOPHVAULT_BACKUP_RETENTION"`
	BackupInterval  time.Duration `env:"GOPHVAULT_BACKUP_INTERVAL"`
	BackupDebounce  time.Duration `env:"GOPHVAULT_BACKUP_DEBOUNCE"`

	IdleTimeout time.Duration `env:"GOPHVAULT_IDLE_TIMEOUT"`
	TOTPIssuer  string        `env:"GOPHVAULT_TOTP_ISSUER"`
	QRDir       string        `env:"GOPHVAULT_QR_DIR"`

	KDFTime      uint32 `env:"GOPHVAULT_KDF_TIME"`
	KDFMemoryKiB uint32 `env:"GOPHVAULT_KDF_MEMORY_KIB"`
	KDFThreads   uint8  `env:"GOPHVAULT_KDF_THREADS"`

	// AtomicRotation runs a re-key cascade and the verification swap in one
	// transaction. When false, records are persisted one by one and a failure
	// leaves the store with mixed keys.
	AtomicRotation bool `env:"GOPHVAULT_ATOMIC_ROTATION"`
	// EnforceTOTP refuses a password-only login while TOTP is enabled.
	EnforceTOTP bool `env:"GOPHVAULT_ENFORCE_TOTP"`

	LogLevel  string `env:"GOPHVAULT_LOG_LEVEL"`
	LogFormat string `env:"GOPHVAULT_LOG_FORMAT"`
	LogFile   string `env:"GOPHVAULT_LOG_FILE"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.StorePath = "vault.db"
	c.BackupDir = "backups"
	c.BackupPrefix = "vault"
	c.BackupRetention = 5
	c.BackupInterval = 24 * time.Hour
	c.BackupDebounce = time.Second
	c.IdleTimeout = 5 * time.Minute
	c.TOTPIssuer = "GophVault"
	c.QRDir = "."

	p := cryptox.DefaultKDFParams()
	c.KDFTime = p.Time
	c.KDFMemoryKiB = p.MemoryKiB
	c.KDFThreads = p.Threads

	c.AtomicRotation = true
	c.EnforceTOTP = false

	c.LogLevel = "info"
	c.LogFormat = "text"
	c.LogFile = "gophvault.log"
}

// KDFParams returns the configured Argon2id parameters for new stores.
func (c *Config) KDFParams() cryptox.KDFParams {
	return cryptox.KDFParams{Time: c.KDFTime, MemoryKiB: c.KDFMemoryKiB, Threads: c.KDFThreads}
}

// ResolvedBackupDir returns BackupDir, relative paths being resolved against
// the directory of the store file.
func (c *Config) ResolvedBackupDir() string {
	if filepath.IsAbs(c.BackupDir) {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.StorePath), c.BackupDir)
}

// Validate rejects values the services cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.StorePath == "":
		return fmt.Errorf("store path must not be empty")
	case c.BackupPrefix == "":
		return fmt.Errorf("backup prefix must not be empty")
	case c.BackupRetention < 1:
		return fmt.Errorf("backup retention must be at least 1, got %d", c.BackupRetention)
	case c.BackupDebounce < 0 || c.BackupInterval < 0 || c.IdleTimeout < 0:
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the JSON file named by the --config flag, from GOPHVAULT_* environment
// variables and finally from the flags the user set explicitly. Later sources
// take precedence over earlier ones.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path := ""
	if fs != nil {
		path, _ = fs.GetString(FlagConfig)
	}
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if fs != nil {
		if err := applyFlags(cfg, fs); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
