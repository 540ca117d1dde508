package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestBackups(t *testing.T, fs filex.FS) (*BackupManager, string) {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "vault.db")
	require.NoError(t, os.WriteFile(store, []byte("sqlite bytes"), 0o600))

	b := NewBackupManager(BackupOptions{
		StorePath: store,
		Dir:       filepath.Join(dir, "backups"),
		Prefix:    "vault",
		Retention: 5,
		Debounce:  20 * time.Millisecond,
	}, fs, logging.Nop())
	clock := &fakeClock{t: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	b.now = clock.now
	return b, store
}

func TestSnapshot_NameAndContent(t *testing.T) {
	b, _ := newTestBackups(t, nil)

	path, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vault-backup-2024-01-02T03-04-06.000Z.db", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(data))
}

func TestSnapshot_Retention(t *testing.T) {
	b, _ := newTestBackups(t, nil)
	ctx := context.Background()

	var paths []string
	for i := 0; i < 7; i++ {
		p, err := b.Snapshot(ctx)
		require.NoError(t, err)
		paths = append(paths, filepath.Base(p))
	}

	names, err := filex.ListDir(b.opts.Dir)
	require.NoError(t, err)
	assert.Equal(t, paths[2:], names, "exactly the 5 newest remain")
}

func TestSnapshotBefore_NotPruned(t *testing.T) {
	b, _ := newTestBackups(t, nil)
	ctx := context.Background()

	pre, err := b.SnapshotBefore(ctx, "change")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(pre), "vault-pre-change-backup-"))

	for i := 0; i < 6; i++ {
		_, err := b.Snapshot(ctx)
		require.NoError(t, err)
	}

	names, err := filex.ListDir(b.opts.Dir)
	require.NoError(t, err)
	assert.Len(t, names, 6)
	assert.Contains(t, names, filepath.Base(pre))
}

func TestSnapshot_SameInstantGetsDistinctNames(t *testing.T) {
	b, _ := newTestBackups(t, nil)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at }

	p1, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	p2, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestList_NewestFirst(t *testing.T) {
	b, _ := newTestBackups(t, nil)
	ctx := context.Background()

	first, err := b.Snapshot(ctx)
	require.NoError(t, err)
	second, err := b.SnapshotBefore(ctx, "restore")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(b.opts.Dir, "notes.txt"), nil, 0o600))

	list, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].Path)
	assert.Equal(t, first, list[1].Path)
}

func TestScheduleSnapshot_Debounced(t *testing.T) {
	b, _ := newTestBackups(t, nil)

	for i := 0; i < 10; i++ {
		b.ScheduleSnapshot()
	}

	require.Eventually(t, func() bool {
		names, _ := filex.ListDir(b.opts.Dir)
		return len(names) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	names, err := filex.ListDir(b.opts.Dir)
	require.NoError(t, err)
	assert.Len(t, names, 1, "a burst yields one snapshot")
}

func TestFlush_RunsPendingSnapshot(t *testing.T) {
	b, _ := newTestBackups(t, nil)
	b.opts.Debounce = time.Hour

	b.ScheduleSnapshot()
	require.NoError(t, b.Flush(context.Background()))

	names, err := filex.ListDir(b.opts.Dir)
	require.NoError(t, err)
	assert.Len(t, names, 1)

	require.NoError(t, b.Flush(context.Background()), "nothing pending")
}

func TestRestoreFrom(t *testing.T) {
	b, store := newTestBackups(t, nil)
	ctx := context.Background()

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store, []byte("newer bytes"), 0o600))

	require.NoError(t, b.RestoreFrom(ctx, snap))

	data, err := os.ReadFile(store)
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(data))

	list, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, strings.HasPrefix(list[0].Name, "vault-pre-restore-backup-"))
	pre, err := os.ReadFile(list[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "newer bytes", string(pre), "current store saved before overwrite")

	assert.ErrorIs(t, b.RestoreFrom(ctx, filepath.Join(b.opts.Dir, "missing.db")), common.ErrIO)
}

type brokenCopyFS struct {
	filex.OS
	copies atomic.Int32
}

func (f *brokenCopyFS) CopyFile(src, dst string) error {
	f.copies.Add(1)
	return errors.New("no space left on device")
}

func TestSnapshot_IOErrorNotRetried(t *testing.T) {
	fs := &brokenCopyFS{}
	b, _ := newTestBackups(t, fs)

	_, err := b.Snapshot(context.Background())
	require.ErrorIs(t, err, common.ErrIO)
	assert.Equal(t, int32(1), fs.copies.Load())
}

func TestSnapshot_MissingStore(t *testing.T) {
	b, store := newTestBackups(t, nil)
	require.NoError(t, os.Remove(store))

	_, err := b.Snapshot(context.Background())
	assert.ErrorIs(t, err, common.ErrIO)
}

func TestRunPeriodic(t *testing.T) {
	b, _ := newTestBackups(t, nil)
	b.opts.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunPeriodic(ctx) }()

	require.Eventually(t, func() bool {
		names, _ := filex.ListDir(b.opts.Dir)
		return len(names) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSnapshot_WaitsForGuard(t *testing.T) {
	b, _ := newTestBackups(t, nil)
	var rotation sync.RWMutex
	b.SetGuard(rotation.RLocker())

	rotation.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := b.Snapshot(context.Background())
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("snapshot must not copy while the guard is held")
	case <-time.After(100 * time.Millisecond):
	}

	rotation.Unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot did not finish after the guard was released")
	}
}

func TestVaultSnapshot_WaitsForRotation(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	v.Session.rotation.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := v.Backups.Snapshot(ctx)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("snapshot must not run while a rotation holds the session")
	case <-time.After(100 * time.Millisecond):
	}

	v.Session.rotation.Unlock()
	require.NoError(t, <-done)

	list, err := v.Backups.List(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(list), 2, "initial snapshot plus the delayed one")
}
