// Copyright © 2018 One Concern

package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oneconcern/snapback/pkg/backend"
	"github.com/oneconcern/snapback/pkg/backend/status"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	dirPermissions = 0755
	ownerRWX       = 0700
)

// Option sets an option of the local backend
type Option func(*localFS)

// WithFs sets the underlying file system. Hardlinks are always created with os.Link,
// so clones require a file system backed by the OS.
func WithFs(fs afero.Fs) Option {
	return func(l *localFS) {
		if fs != nil {
			l.fs = fs
		}
	}
}

// WithClock overrides the time used by Touch
func WithClock(now func() time.Time) Option {
	return func(l *localFS) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a backend acting on the local file system
func New(opts ...Option) backend.Backend {
	l := &localFS{
		fs:     afero.NewOsFs(),
		now:    time.Now,
		link:   os.Link,
		statfs: unix.Statfs,
	}
	for _, apply := range opts {
		apply(l)
	}
	return l
}

type localFS struct {
	fs     afero.Fs
	now    func() time.Time
	link   func(string, string) error
	statfs func(string, *unix.Statfs_t) error
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}

func (l *localFS) lstat(p string) (os.FileInfo, error) {
	if lst, ok := l.fs.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(p)
		return fi, err
	}
	return l.fs.Stat(p)
}

func (l *localFS) Exists(_ context.Context, p string) (bool, error) {
	_, err := l.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *localFS) isDir(p string) (bool, error) {
	fi, err := l.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

func (l *localFS) Mkdir(_ context.Context, p string) error {
	if ok, err := l.isDir(p); err == nil && ok {
		return nil
	}
	if err := l.fs.MkdirAll(p, dirPermissions); err != nil {
		return status.ErrDirectoryCreate.Wrap(err)
	}
	ok, err := l.isDir(p)
	if err != nil {
		return status.ErrDirectoryCreate.Wrap(err)
	}
	if !ok {
		return status.ErrDirectoryCreate.Wrapf("%q is not a directory", p)
	}
	return nil
}

func (l *localFS) RemoveTree(ctx context.Context, p string) error {
	if err := guardRoot(p); err != nil {
		return status.ErrDirectoryRemove.Wrap(err)
	}
	if _, err := l.lstat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return status.ErrDirectoryRemove.Wrap(err)
	}

	err := l.fs.RemoveAll(p)
	if err != nil {
		// snapshots may hold read-only directories, which cannot be emptied as is
		if werr := l.grantOwnerWrite(ctx, p); werr == nil {
			err = l.fs.RemoveAll(p)
		} else {
			err = multierr.Append(err, werr)
		}
	}

	_, serr := l.lstat(p)
	switch {
	case serr == nil:
		return status.ErrDirectoryRemove.Wrap(multierr.Append(fmt.Errorf("residue remains at %q", p), err))
	case !os.IsNotExist(serr):
		return status.ErrDirectoryRemove.Wrap(multierr.Append(err, serr))
	}
	return nil
}

func (l *localFS) grantOwnerWrite(ctx context.Context, root string) error {
	return afero.Walk(l.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.IsDir() || info.Mode().Perm()&ownerRWX == ownerRWX {
			return nil
		}
		return l.fs.Chmod(p, info.Mode().Perm()|ownerRWX)
	})
}

func (l *localFS) MoveDir(ctx context.Context, src, dst string) error {
	if _, err := l.lstat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return status.ErrDirectoryMove.Wrap(err)
	}
	if _, err := l.lstat(dst); err == nil {
		// renaming onto an existing directory would either fail or nest the source into it
		return status.ErrDirectoryMove.Wrapf("destination %q already exists", dst)
	}
	if err := l.fs.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return status.ErrDirectoryMove.Wrap(err)
	}
	if err := l.fs.Rename(src, dst); err != nil {
		return status.ErrDirectoryMove.Wrap(err)
	}
	if ok, err := l.Exists(ctx, dst); err != nil || !ok {
		return status.ErrDirectoryMove.Wrap(multierr.Append(fmt.Errorf("%q not found after move", dst), err))
	}
	return nil
}

type dirMeta struct {
	path  string
	mode  os.FileMode
	mtime time.Time
	sys   interface{}
}

func (l *localFS) HardlinkClone(ctx context.Context, src, dst string) error {
	fi, err := l.lstat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return status.ErrSnapshotClone.Wrap(status.ErrNotExists.Wrapf("source %q", src))
		}
		return status.ErrSnapshotClone.Wrap(err)
	}
	if !fi.IsDir() {
		return status.ErrSnapshotClone.Wrapf("source %q is not a directory", src)
	}
	if _, err = l.lstat(dst); err == nil {
		return status.ErrSnapshotClone.Wrapf("destination %q already exists", dst)
	}
	if err = l.fs.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return status.ErrSnapshotClone.Wrap(err)
	}

	dirs := make([]dirMeta, 0, 64)
	err = afero.Walk(l.fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			// the owner needs write access while the tree is populated, the final mode is set afterwards
			if err := l.fs.Mkdir(target, info.Mode().Perm()|ownerRWX); err != nil {
				return err
			}
			dirs = append(dirs, dirMeta{path: target, mode: info.Mode(), mtime: info.ModTime(), sys: info.Sys()})
			return nil
		}

		// regular files, symlinks and special files all share the inode of the source
		return l.link(p, target)
	})
	if err != nil {
		if cerr := l.fs.RemoveAll(dst); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("cleaning up partial clone: %w", cerr))
		}
		return status.ErrSnapshotClone.Wrap(err)
	}

	// deepest directories first: setting times on a parent must come after its children are complete
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := l.restoreDirMeta(d); err != nil {
			return status.ErrSnapshotClone.Wrap(err)
		}
	}
	return nil
}

func (l *localFS) restoreDirMeta(d dirMeta) error {
	if st, ok := d.sys.(*syscall.Stat_t); ok && os.Geteuid() == 0 {
		if err := l.fs.Chown(d.path, int(st.Uid), int(st.Gid)); err != nil {
			return err
		}
	}
	if err := l.fs.Chmod(d.path, d.mode.Perm()|d.mode&os.ModeSticky); err != nil {
		return err
	}
	return l.fs.Chtimes(d.path, d.mtime, d.mtime)
}

func (l *localFS) Symlink(_ context.Context, target, linkPath string) error {
	sl, ok := l.fs.(afero.Symlinker)
	if !ok {
		return status.ErrSymlink.Wrap(status.ErrNotSupported)
	}

	fi, _, err := sl.LstatIfPossible(linkPath)
	switch {
	case err == nil:
		if fi.Mode()&os.ModeSymlink == 0 {
			return status.ErrSymlink.Wrapf("%q exists and is not a symlink", linkPath)
		}
		if err = l.fs.Remove(linkPath); err != nil {
			return status.ErrSymlink.Wrap(err)
		}
	case !os.IsNotExist(err):
		return status.ErrSymlink.Wrap(err)
	}

	if err = sl.SymlinkIfPossible(target, linkPath); err != nil {
		return status.ErrSymlink.Wrap(err)
	}
	got, err := sl.ReadlinkIfPossible(linkPath)
	if err != nil {
		return status.ErrSymlink.Wrap(err)
	}
	if got != target {
		return status.ErrSymlink.Wrapf("%q points to %q, expected %q", linkPath, got, target)
	}
	return nil
}

func (l *localFS) Readlink(_ context.Context, p string) (string, error) {
	lr, ok := l.fs.(afero.LinkReader)
	if !ok {
		return "", status.ErrNotSupported
	}
	target, err := lr.ReadlinkIfPossible(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", status.ErrNotExists.Wrap(err)
		}
		return "", err
	}
	return target, nil
}

func (l *localFS) Touch(_ context.Context, p string) error {
	now := l.now()
	return l.fs.Chtimes(p, now, now)
}

func (l *localFS) DiskUsage(_ context.Context, p string) (backend.Usage, error) {
	var st unix.Statfs_t
	if err := l.statfs(p, &st); err != nil {
		return backend.Usage{}, err
	}
	bsize := uint64(st.Bsize)
	return backend.Usage{
		Total:     st.Blocks * bsize,
		Used:      (st.Blocks - st.Bfree) * bsize,
		Available: st.Bavail * bsize,
	}, nil
}

func (l *localFS) Close() error {
	return nil
}

func guardRoot(p string) error {
	if c := filepath.Clean(p); c == "/" || c == "." || p == "" {
		return fmt.Errorf("refusing to remove %q", p)
	}
	return nil
}
