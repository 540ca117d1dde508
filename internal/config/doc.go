// Package config loads runtime configuration for gophvault.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with --config.
//  3. GOPHVAULT_* environment variables.
//  4. Command-line flags, only those explicitly set by the user.
//
// # JSON schema
//
// Intervals use timex.Duration, so they can be strings like "24h" or integer
// nanoseconds:
//
//	{
//	  "store_path": "/home/me/.gophvault/vault.db",
//	  "backup_dir": "backups",
//	  "backup_retention": 5,
//	  "backup_interval": "24h",
//	  "backup_debounce": "1s",
//	  "idle_timeout": "5m",
//	  "atomic_rotation": true
//	}
package config
