package config

import (
	"github.com/spf13/pflag"
)

// Flag names shared by the command line and LoadConfig.
const (
	FlagConfig         = "config"
	FlagStore          = "store"
	FlagBackupDir      = "backup-dir"
	FlagIdleTimeout    = "idle-timeout"
	FlagLogLevel       = "log-level"
	FlagLogFile        = "log-file"
	FlagAtomicRotation = "atomic-rotation"
	FlagEnforceTOTP    = "enforce-totp"
)

// RegisterFlags declares the configuration flags on fs with the built-in
// defaults as help values.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(FlagConfig, "c", "", "path to a JSON config file")
	fs.StringP(FlagStore, "s", d.StorePath, "path to the vault store file")
	fs.String(FlagBackupDir, d.BackupDir, "backup directory (relative to the store file)")
	fs.Duration(FlagIdleTimeout, d.IdleTimeout, "lock the vault after this much inactivity (0 disables)")
	fs.String(FlagLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	fs.String(FlagLogFile, d.LogFile, "log file path, '-' for stderr")
	fs.Bool(FlagAtomicRotation, d.AtomicRotation, "re-encrypt all records in a single transaction")
	fs.Bool(FlagEnforceTOTP, d.EnforceTOTP, "require the one-time code together with the password when TOTP is enabled")
}

// applyFlags copies the flags the user actually set into cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case FlagStore:
			cfg.StorePath, err = fs.GetString(FlagStore)
		case FlagBackupDir:
			cfg.BackupDir, err = fs.GetString(FlagBackupDir)
		case FlagIdleTimeout:
			cfg.IdleTimeout, err = fs.GetDuration(FlagIdleTimeout)
		case FlagLogLevel:
			cfg.LogLevel, err = fs.GetString(FlagLogLevel)
		case FlagLogFile:
			cfg.LogFile, err = fs.GetString(FlagLogFile)
		case FlagAtomicRotation:
			cfg.AtomicRotation, err = fs.GetBool(FlagAtomicRotation)
		case FlagEnforceTOTP:
			cfg.EnforceTOTP, err = fs.GetBool(FlagEnforceTOTP)
		}
	})
	return err
}
