// Copyright © 2018 One Concern

package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oneconcern/snapback/pkg/backend/status"
	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t testing.TB, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func setupTree(t testing.TB) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "sixteentons"), "this is the text")
	writeFile(t, filepath.Join(root, "src", "deep", "er", "seventeentons"), "this is the text for another thing")
	require.NoError(t, os.Symlink("sixteentons", filepath.Join(root, "src", "link")))
	return root
}

func TestExists(t *testing.T) {
	root := setupTree(t)
	fs := New()
	ctx := context.Background()

	ok, err := fs.Exists(ctx, filepath.Join(root, "src"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.Exists(ctx, filepath.Join(root, "src", "sixteentons"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.Exists(ctx, filepath.Join(root, "fifteentons"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMkdir(t *testing.T) {
	root := t.TempDir()
	fs := New()
	ctx := context.Background()
	target := filepath.Join(root, "daily", "monday")

	require.NoError(t, fs.Mkdir(ctx, target))
	fi, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	// idempotent
	require.NoError(t, fs.Mkdir(ctx, target))

	writeFile(t, filepath.Join(root, "afile"), "x")
	err = fs.Mkdir(ctx, filepath.Join(root, "afile"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrDirectoryCreate))
}

func TestRemoveTree(t *testing.T) {
	root := setupTree(t)
	fs := New()
	ctx := context.Background()
	src := filepath.Join(root, "src")

	// read-only directories are removed as well
	require.NoError(t, os.Chmod(filepath.Join(src, "deep", "er"), 0555))
	require.NoError(t, os.Chmod(filepath.Join(src, "deep"), 0555))

	require.NoError(t, fs.RemoveTree(ctx, src))
	_, err := os.Lstat(src)
	assert.True(t, os.IsNotExist(err))

	// absent path is a no-op
	require.NoError(t, fs.RemoveTree(ctx, src))

	err = fs.RemoveTree(ctx, "/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrDirectoryRemove))
}

func TestMoveDir(t *testing.T) {
	root := setupTree(t)
	fs := New()
	ctx := context.Background()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "weekly", "week2")

	require.NoError(t, fs.MoveDir(ctx, src, dst))
	_, err := os.Stat(filepath.Join(dst, "deep", "er", "seventeentons"))
	require.NoError(t, err)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	// absent source is a no-op
	require.NoError(t, fs.MoveDir(ctx, src, filepath.Join(root, "weekly", "week3")))
	_, err = os.Stat(filepath.Join(root, "weekly", "week3"))
	assert.True(t, os.IsNotExist(err))

	// existing destination is never nested into
	require.NoError(t, os.MkdirAll(filepath.Join(root, "weekly", "week1"), 0755))
	err = fs.MoveDir(ctx, dst, filepath.Join(root, "weekly", "week1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrDirectoryMove))
	_, err = os.Stat(filepath.Join(root, "weekly", "week1", "week2"))
	assert.True(t, os.IsNotExist(err))
}

func TestHardlinkClone(t *testing.T) {
	root := setupTree(t)
	fs := New()
	ctx := context.Background()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "daily", "tuesday")

	past := time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chmod(filepath.Join(src, "deep"), 0750))
	require.NoError(t, os.Chtimes(filepath.Join(src, "deep"), past, past))

	require.NoError(t, fs.HardlinkClone(ctx, src, dst))

	for _, name := range []string{"sixteentons", filepath.Join("deep", "er", "seventeentons"), "link"} {
		a, err := os.Lstat(filepath.Join(src, name))
		require.NoError(t, err)
		b, err := os.Lstat(filepath.Join(dst, name))
		require.NoError(t, err)
		assert.Truef(t, os.SameFile(a, b), "expected %s to share its inode with the source", name)
	}

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "sixteentons", target)

	deep, err := os.Stat(filepath.Join(dst, "deep"))
	require.NoError(t, err)
	assert.True(t, deep.IsDir())
	assert.Equal(t, os.FileMode(0750), deep.Mode().Perm())
	assert.True(t, deep.ModTime().Equal(past))

	// replacing a file in the clone leaves the source untouched
	replacement := filepath.Join(dst, "sixteentons.tmp")
	writeFile(t, replacement, "changed")
	require.NoError(t, os.Rename(replacement, filepath.Join(dst, "sixteentons")))
	b, err := os.ReadFile(filepath.Join(src, "sixteentons"))
	require.NoError(t, err)
	assert.Equal(t, "this is the text", string(b))
}

func TestHardlinkCloneErrors(t *testing.T) {
	root := setupTree(t)
	fs := New()
	ctx := context.Background()

	err := fs.HardlinkClone(ctx, filepath.Join(root, "nowhere"), filepath.Join(root, "clone"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrSnapshotClone))
	assert.True(t, errors.Is(err, status.ErrNotExists))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "clone"), 0755))
	err = fs.HardlinkClone(ctx, filepath.Join(root, "src"), filepath.Join(root, "clone"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrSnapshotClone))
	_, err = os.Stat(filepath.Join(root, "clone", "src"))
	assert.True(t, os.IsNotExist(err))
}

func TestHardlinkCloneCleansUpPartialClone(t *testing.T) {
	root := setupTree(t)
	l := New().(*localFS)
	calls := 0
	l.link = func(oldname, newname string) error {
		calls++
		if calls > 1 {
			return os.ErrPermission
		}
		return os.Link(oldname, newname)
	}

	dst := filepath.Join(root, "clone")
	err := l.HardlinkClone(context.Background(), filepath.Join(root, "src"), dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrSnapshotClone))
	_, err = os.Lstat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestSymlink(t *testing.T) {
	root := setupTree(t)
	fs := New()
	ctx := context.Background()
	link := filepath.Join(root, "latest")

	require.NoError(t, fs.Symlink(ctx, "daily/monday", link))
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "daily/monday", target)

	// idempotent
	require.NoError(t, fs.Symlink(ctx, "daily/monday", link))
	require.NoError(t, fs.Symlink(ctx, "daily/tuesday", link))
	target, err = fs.Readlink(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, "daily/tuesday", target)

	_, err = fs.Readlink(ctx, filepath.Join(root, "nolink"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotExists))

	// never replaces a real directory
	err = fs.Symlink(ctx, "daily/tuesday", filepath.Join(root, "src"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrSymlink))
}

func TestTouch(t *testing.T) {
	root := setupTree(t)
	now := time.Date(2026, 10, 15, 2, 30, 0, 0, time.UTC)
	fs := New(WithClock(func() time.Time { return now }))

	require.NoError(t, fs.Touch(context.Background(), filepath.Join(root, "src")))
	fi, err := os.Stat(filepath.Join(root, "src"))
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(now))
}

func TestDiskUsage(t *testing.T) {
	fs := New()
	u, err := fs.DiskUsage(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, u.Total)
	assert.LessOrEqual(t, u.Used, u.Total)
	assert.LessOrEqual(t, u.Percent(), float64(100))
}

func TestMemMapFs(t *testing.T) {
	mem := afero.NewMemMapFs()
	fs := New(WithFs(mem))
	ctx := context.Background()

	require.NoError(t, fs.Mkdir(ctx, "/backup/weekly/week1"))
	require.NoError(t, fs.MoveDir(ctx, "/backup/weekly/week1", "/backup/weekly/week2"))
	ok, err := fs.Exists(ctx, "/backup/weekly/week2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, fs.RemoveTree(ctx, "/backup/weekly"))
	ok, err = fs.Exists(ctx, "/backup/weekly")
	require.NoError(t, err)
	assert.False(t, ok)

	err = fs.Symlink(ctx, "daily/monday", "/backup/latest")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotSupported))
	assert.Equal(t, "localfs", fs.String())
}
