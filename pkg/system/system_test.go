package system

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArchitecture(t *testing.T) {
	tests := []struct {
		in   string
		want Architecture
	}{
		{"arm64", ArchAppleSilicon},
		{"x86_64\n", ArchIntel},
		{"amd64", ArchIntel},
		{"ppc", ArchUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseArchitecture(tt.in), tt.in)
	}

	assert.Equal(t, "/opt/homebrew", ArchAppleSilicon.BrewPrefix())
	assert.Equal(t, "/usr/local", ArchIntel.BrewPrefix())
}

func TestBackupFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte("Host *\n"), 0600))

	backup, err := BackupFile(path, filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "Host *\n", string(data))
}

func TestBackupFile_Missing(t *testing.T) {
	backup, err := BackupFile(filepath.Join(t.TempDir(), "absent"), "")
	require.NoError(t, err)
	assert.Empty(t, backup)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWriteFileAtomic_KeepsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "dotfiles", "ssh_config")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0700))
	require.NoError(t, os.WriteFile(target, []byte("Host *\n"), 0600))

	link := filepath.Join(dir, ".ssh", "config")
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0700))
	require.NoError(t, os.Symlink("../dotfiles/ssh_config", link))

	require.NoError(t, WriteFileAtomic(link, []byte("Host github.com\n"), 0600))

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "link must survive the write")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "Host github.com\n", string(data))
}

func TestResolveLink(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	got, err := ResolveLink(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	dangling := filepath.Join(dir, "dangling")
	require.NoError(t, os.Symlink(filepath.Join(dir, "later"), dangling))
	got, err = ResolveLink(dangling)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "later"), got)

	loop := filepath.Join(dir, "loop")
	require.NoError(t, os.Symlink(loop, loop))
	_, err = ResolveLink(loop)
	assert.Error(t, err)
}

func TestWaitFor(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := WaitFor(ctx, time.Second, 10*time.Millisecond, func() bool {
		calls++
		return calls >= 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = WaitFor(ctx, 50*time.Millisecond, 10*time.Millisecond, func() bool { return false })
	assert.True(t, errors.Is(err, ErrWaitTimeout))
}

func TestWaitForPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "agent.sock")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(target, nil, 0600)
	}()

	require.NoError(t, WaitForPath(context.Background(), target, 5*time.Second))
}

func TestWaitForPath_Timeout(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing", "file")
	err := WaitForPath(context.Background(), target, 100*time.Millisecond)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
}

func TestWaitForPath_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForPath(ctx, filepath.Join(t.TempDir(), "never"), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
