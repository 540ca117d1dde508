package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
)

// backupTimeLayout is ISO 8601 in UTC with ':' replaced by '-', so names are
// valid on every filesystem and sort chronologically.
const backupTimeLayout = "2006-01-02T15-04-05.000Z"

// BackupInfo describes one snapshot file.
type BackupInfo struct {
	Name      string
	Path      string
	CreatedAt time.Time
}

// BackupOptions configures a BackupManager.
type BackupOptions struct {
	StorePath string
	Dir       string
	Prefix    string
	Retention int
	Debounce  time.Duration
	Interval  time.Duration
}

// BackupManager copies the store file into a backup directory and prunes old
// automatic snapshots.
type BackupManager struct {
	opts BackupOptions
	fs   filex.FS
	now  func() time.Time
	log  logging.Logger

	// mu serializes every copy touching the store or backup directory.
	mu sync.Mutex
	// guard, when set, is held around each copy of the store file.
	guard sync.Locker

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewBackupManager(opts BackupOptions, fs filex.FS, log logging.Logger) *BackupManager {
	if fs == nil {
		fs = filex.OS{}
	}
	return &BackupManager{opts: opts, fs: fs, now: time.Now, log: log}
}

// SetGuard makes every copy of the store wait for l. The vault passes the
// shared side of the session rotation lock so a snapshot never sees a store
// halfway through a re-key.
func (b *BackupManager) SetGuard(l sync.Locker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.guard = l
}

func (b *BackupManager) copyStore(dst string) error {
	if b.guard != nil {
		b.guard.Lock()
		defer b.guard.Unlock()
	}
	return b.fs.CopyFile(b.opts.StorePath, dst)
}

func (b *BackupManager) autoPrefix() string {
	return b.opts.Prefix + "-backup-"
}

func (b *BackupManager) fileName(prefix string, t time.Time) string {
	return prefix + "-backup-" + t.UTC().Format(backupTimeLayout) + ".db"
}

// Snapshot copies the store into the backup directory and keeps only the
// newest Retention automatic snapshots.
func (b *BackupManager) Snapshot(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.snapshotLocked(ctx, b.opts.Prefix)
	if err != nil {
		return "", err
	}
	if err := b.pruneLocked(ctx); err != nil {
		return path, err
	}
	return path, nil
}

// SnapshotBefore takes an unpruned snapshot ahead of a risky operation such
// as a password change, a reset or a restore.
func (b *BackupManager) SnapshotBefore(ctx context.Context, op string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(ctx, b.opts.Prefix+"-pre-"+op)
}

func (b *BackupManager) snapshotLocked(ctx context.Context, prefix string) (string, error) {
	ok, err := b.fs.Exists(b.opts.StorePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: store %s does not exist", common.ErrIO, b.opts.StorePath)
	}
	if err := b.fs.EnsureDir(b.opts.Dir); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	t := b.now()
	dst := filepath.Join(b.opts.Dir, b.fileName(prefix, t))
	for {
		taken, err := b.fs.Exists(dst)
		if err != nil {
			return "", fmt.Errorf("%w: %v", common.ErrIO, err)
		}
		if !taken {
			break
		}
		t = t.Add(time.Millisecond)
		dst = filepath.Join(b.opts.Dir, b.fileName(prefix, t))
	}

	if err := b.copyStore(dst); err != nil {
		b.log.Error(ctx, "snapshot failed", "dst", dst, "error", err)
		return "", fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	b.log.Info(ctx, "snapshot written", "path", dst)
	return dst, nil
}

func (b *BackupManager) pruneLocked(ctx context.Context) error {
	names, err := b.fs.ListDir(b.opts.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	auto := make([]string, 0, len(names))
	for _, n := range names {
		if strings.HasPrefix(n, b.autoPrefix()) && strings.HasSuffix(n, ".db") {
			auto = append(auto, n)
		}
	}
	if len(auto) <= b.opts.Retention {
		return nil
	}

	sort.Strings(auto)
	for _, n := range auto[:len(auto)-b.opts.Retention] {
		if err := b.fs.DeleteFile(filepath.Join(b.opts.Dir, n)); err != nil {
			return fmt.Errorf("%w: %v", common.ErrIO, err)
		}
		b.log.Debug(ctx, "old snapshot pruned", "name", n)
	}
	return nil
}

// ScheduleSnapshot asks for a snapshot after the debounce delay. Calls made
// while one is pending push it back, so a burst of writes yields one
// snapshot. It never blocks on the copy itself.
func (b *BackupManager) ScheduleSnapshot() {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.opts.Debounce, func() {
		ctx := context.Background()
		if _, err := b.Snapshot(ctx); err != nil {
			b.log.Warn(ctx, "scheduled snapshot failed", "error", err)
		}
	})
}

// Flush runs a pending scheduled snapshot now and waits for any snapshot in
// progress.
func (b *BackupManager) Flush(ctx context.Context) error {
	b.timerMu.Lock()
	pending := b.timer != nil && b.timer.Stop()
	b.timer = nil
	b.timerMu.Unlock()

	if pending {
		_, err := b.Snapshot(ctx)
		return err
	}
	// wait for a snapshot already running
	b.mu.Lock()
	defer b.mu.Unlock()
	return nil
}

// RunPeriodic takes an automatic snapshot every Interval until ctx is done.
// A missing store is skipped silently.
func (b *BackupManager) RunPeriodic(ctx context.Context) error {
	if b.opts.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ok, err := b.fs.Exists(b.opts.StorePath)
			if err != nil || !ok {
				continue
			}
			if _, err := b.Snapshot(ctx); err != nil {
				b.log.Warn(ctx, "periodic snapshot failed", "error", err)
			}
		}
	}
}

// RestoreFrom snapshots the current store, then overwrites it with the
// backup at path. The caller must lock the vault first and re-authenticate
// afterwards.
func (b *BackupManager) RestoreFrom(ctx context.Context, path string) error {
	ok, err := b.fs.Exists(path)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	if !ok {
		return fmt.Errorf("%w: backup %s does not exist", common.ErrIO, path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if exists, _ := b.fs.Exists(b.opts.StorePath); exists {
		if _, err := b.snapshotLocked(ctx, b.opts.Prefix+"-pre-restore"); err != nil {
			return err
		}
	}
	if err := b.fs.CopyFile(path, b.opts.StorePath); err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	b.log.Info(ctx, "store restored", "from", path)
	return nil
}

// List returns every snapshot in the backup directory, newest first.
func (b *BackupManager) List(ctx context.Context) ([]BackupInfo, error) {
	names, err := b.fs.ListDir(b.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	out := []BackupInfo{}
	for _, n := range names {
		if !strings.HasPrefix(n, b.opts.Prefix) || !strings.HasSuffix(n, ".db") {
			continue
		}
		i := strings.LastIndex(n, "-backup-")
		if i < 0 {
			continue
		}
		ts, err := time.Parse(backupTimeLayout, strings.TrimSuffix(n[i+len("-backup-"):], ".db"))
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{Name: n, Path: filepath.Join(b.opts.Dir, n), CreatedAt: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
