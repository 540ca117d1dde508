// Package store opens the single SQLite file that holds the vault.
//
// The primary handle is read-write and limited to one connection, so SQLite
// sees a single writer. Pre-session checks (is TOTP enabled, is a code valid)
// use a short-lived read-only handle instead, leaving the primary handle and
// its locks untouched.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/store/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

var gooseMu sync.Mutex

// RunMigrations brings the schema of db up to date. It is idempotent.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// goose keeps its FS and dialect in package globals.
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the store at path as the primary handle and
// migrates it.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: open store %s: %v", common.ErrIO, path, err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenReadOnly opens an existing store without write access. A missing file
// yields common.ErrNotInitialized.
func OpenReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	ok, err := Exists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrNotInitialized
	}

	db, err := sql.Open(driverName, fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open store read-only: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: open store %s read-only: %v", common.ErrIO, path, err)
	}
	return db, nil
}

// WithReadOnly opens a read-only handle, runs fn and closes the handle.
func WithReadOnly(ctx context.Context, path string, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := OpenReadOnly(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

// Exists reports whether a store file is present at path.
func Exists(path string) (bool, error) {
	ok, err := filex.Exists(path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return ok, nil
}
