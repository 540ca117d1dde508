package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer fields
// distinguish "absent" from zero values, so a partial file only overrides
// what it names.
type JsonConfig struct {
	StorePath       *string         `json:"store_path"`
	BackupDir       *string         `json:"backup_dir"`
	BackupPrefix    *string         `json:"backup_prefix"`
	BackupRetention *int            `json:"backup_retention"`
	BackupInterval  *timex.Duration `json:"backup_interval"`
	BackupDebounce  *timex.Duration `json:"backup_debounce"`
	IdleTimeout     *timex.Duration `json:"idle_timeout"`
	TOTPIssuer      *string         `json:"totp_issuer"`
	QRDir           *string         `json:"qr_dir"`
	KDFTime         *uint32         `json:"kdf_time"`
	KDFMemoryKiB    *uint32         `json:"kdf_memory_kib"`
	KDFThreads      *uint8          `json:"kdf_threads"`
	AtomicRotation  *bool           `json:"atomic_rotation"`
	EnforceTOTP     *bool           `json:"enforce_totp"`
	LogLevel        *string         `json:"log_level"`
	LogFormat       *string         `json:"log_format"`
	LogFile         *string         `json:"log_file"`
}

// parseJson overlays cfg with values from the JSON file at path. An empty
// path leaves cfg unchanged.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setIf(&cfg.StorePath, jc.StorePath)
	setIf(&cfg.BackupDir, jc.BackupDir)
	setIf(&cfg.BackupPrefix, jc.BackupPrefix)
	setIf(&cfg.BackupRetention, jc.BackupRetention)
	setDuration(&cfg.BackupInterval, jc.BackupInterval)
	setDuration(&cfg.BackupDebounce, jc.BackupDebounce)
	setDuration(&cfg.IdleTimeout, jc.IdleTimeout)
	setIf(&cfg.TOTPIssuer, jc.TOTPIssuer)
	setIf(&cfg.QRDir, jc.QRDir)
	setIf(&cfg.KDFTime, jc.KDFTime)
	setIf(&cfg.KDFMemoryKiB, jc.KDFMemoryKiB)
	setIf(&cfg.KDFThreads, jc.KDFThreads)
	setIf(&cfg.AtomicRotation, jc.AtomicRotation)
	setIf(&cfg.EnforceTOTP, jc.EnforceTOTP)
	setIf(&cfg.LogLevel, jc.LogLevel)
	setIf(&cfg.LogFormat, jc.LogFormat)
	setIf(&cfg.LogFile, jc.LogFile)
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
