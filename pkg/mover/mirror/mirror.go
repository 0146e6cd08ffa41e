// Copyright © 2018 One Concern

// Package mirror implements the mover port natively, for jobs where both sides are local.
//
// Files found identical by size, modification time and mode are left alone. Any other file is
// written to a temporary file which then replaces the destination entry: the inode formerly
// found at the destination is never written to, so older snapshots sharing it through a
// hardlink keep their content.
package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/oneconcern/snapback/pkg/mover"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const tempPrefix = ".snapback-tmp-"

// Option for the mirror mover
type Option func(*Mover)

// WithFs sets the file system. Symlinks are only mirrored by file systems implementing afero.Symlinker.
func WithFs(fs afero.Fs) Option {
	return func(m *Mover) {
		if fs != nil {
			m.fs = fs
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Mover) {
		if l != nil {
			m.l = l
		}
	}
}

// Mover copies local trees with mirror semantics
type Mover struct {
	fs afero.Fs
	l  *zap.Logger
}

var _ mover.Mover = &Mover{}

// New mirror mover, acting on the OS file system by default
func New(opts ...Option) *Mover {
	m := &Mover{
		fs: afero.NewOsFs(),
		l:  zap.NewNop(),
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

func (m *Mover) String() string {
	return "builtin"
}

type transfer struct {
	*Mover
	ctx      context.Context
	excludes excludes
	stats    mover.Stats
}

// Move mirrors the sources into the destination
func (m *Mover) Move(ctx context.Context, r mover.Request) (mover.Stats, error) {
	if err := r.Validate(); err != nil {
		return mover.Stats{}, err
	}
	if r.Destination.IsRemote() {
		return mover.Stats{}, status.ErrSync.Wrapf("the builtin mover only handles local paths, got %q", r.Destination)
	}
	for _, s := range r.Sources {
		if s.IsRemote() {
			return mover.Stats{}, status.ErrSync.Wrapf("the builtin mover only handles local paths, got %q", s)
		}
	}
	x, err := compile(r.Excludes)
	if err != nil {
		return mover.Stats{}, err
	}

	t := &transfer{Mover: m, ctx: ctx, excludes: x}
	dst := filepath.FromSlash(r.Destination.Path)
	if len(r.Sources) == 1 {
		err = t.mirrorDir(filepath.FromSlash(r.Sources[0].Path), dst, "")
	} else {
		err = t.mirrorSources(r.Sources, dst)
	}
	if err != nil {
		return t.stats, status.ErrSync.Wrap(err)
	}
	m.l.Info("transfer complete",
		zap.String("destination", r.Destination.Path),
		zap.Int("transferred", t.stats.Transferred),
		zap.Int("deleted", t.stats.Deleted),
	)
	return t.stats, nil
}

// mirrorSources lands every source under its base name. The destination holds nothing else:
// entries left by a previous snapshot and excluded sources are removed.
func (t *transfer) mirrorSources(sources []model.Location, dst string) error {
	if err := t.ensureDir(dst, 0); err != nil {
		return err
	}

	wanted := make(map[string]string, len(sources))
	for _, s := range sources {
		src := filepath.FromSlash(s.Path)
		fi, err := t.lstat(src)
		if err != nil {
			return err
		}
		base := path.Base(s.Path)
		if t.excludes.match(base, fi.IsDir()) {
			t.l.Debug("excluded source", zap.String("source", s.Path))
			continue
		}
		wanted[base] = src
	}

	existing, err := afero.ReadDir(t.fs, dst)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if _, ok := wanted[e.Name()]; ok {
			continue
		}
		if err = t.remove(filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}

	for _, s := range sources {
		base := path.Base(s.Path)
		src, ok := wanted[base]
		if !ok {
			continue
		}
		if err = t.mirrorEntry(src, filepath.Join(dst, base), base); err != nil {
			return err
		}
	}
	return nil
}

func (t *transfer) lstat(p string) (os.FileInfo, error) {
	if lst, ok := t.fs.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(p)
		return fi, err
	}
	return t.fs.Stat(p)
}

func (t *transfer) warn(msg string, fields ...zap.Field) {
	t.l.Warn(msg, fields...)
	t.stats.Warnings = append(t.stats.Warnings, msg)
}

// mirrorEntry copies a source entry of any type to dst
func (t *transfer) mirrorEntry(src, dst, rel string) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	fi, err := t.lstat(src)
	if err != nil {
		return err
	}

	switch mode := fi.Mode(); {
	case mode.IsDir():
		return t.mirrorDir(src, dst, rel)
	case mode.IsRegular():
		return t.mirrorFile(src, dst, fi)
	case mode&os.ModeSymlink != 0:
		return t.mirrorSymlink(src, dst)
	default:
		t.warn(fmt.Sprintf("skipping special file %s", src), zap.Stringer("mode", mode))
		return nil
	}
}

func (t *transfer) mirrorDir(src, dst, rel string) error {
	fi, err := t.fs.Stat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("source %q is not a directory", src)
	}
	if err = t.ensureDir(dst, fi.Mode().Perm()|0700); err != nil {
		return err
	}

	entries, err := afero.ReadDir(t.fs, src)
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !t.excludes.match(path.Join(rel, e.Name()), e.IsDir()) {
			wanted[e.Name()] = true
		}
	}

	// extraneous and excluded entries go first, so that a file may replace a directory
	existing, err := afero.ReadDir(t.fs, dst)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if wanted[e.Name()] {
			continue
		}
		if err = t.remove(filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}

	for _, e := range entries {
		if !wanted[e.Name()] {
			continue
		}
		if err = t.mirrorEntry(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name()), path.Join(rel, e.Name())); err != nil {
			return err
		}
	}

	// directories are never shared between snapshots: their attributes may be set in place
	return t.setAttributes(dst, fi)
}

// ensureDir makes sure dst is a directory, replacing any other kind of entry
func (t *transfer) ensureDir(dst string, perm os.FileMode) error {
	fi, err := t.lstat(dst)
	switch {
	case err == nil && fi.IsDir():
		if perm != 0 && fi.Mode().Perm()&0700 != 0700 {
			return t.fs.Chmod(dst, fi.Mode().Perm()|0700)
		}
		return nil
	case err == nil:
		if err = t.remove(dst); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return err
	}
	if perm == 0 {
		perm = 0755
	}
	return t.fs.MkdirAll(dst, perm)
}

func (t *transfer) remove(p string) error {
	if err := t.fs.RemoveAll(p); err != nil {
		return err
	}
	t.stats.Deleted++
	return nil
}

// unchanged is the quick check deciding that a file needs no transfer
func unchanged(src, dst os.FileInfo) bool {
	return dst.Mode().IsRegular() &&
		src.Size() == dst.Size() &&
		src.Mode() == dst.Mode() &&
		src.ModTime().Equal(dst.ModTime())
}

func (t *transfer) mirrorFile(src, dst string, fi os.FileInfo) error {
	current, err := t.lstat(dst)
	switch {
	case err == nil && current.IsDir():
		if err = t.remove(dst); err != nil {
			return err
		}
	case err == nil && unchanged(fi, current):
		return nil
	case err != nil && !os.IsNotExist(err):
		return err
	}

	tmp, err := t.copyToTemp(src, filepath.Dir(dst), fi)
	if err != nil {
		return err
	}
	if err = t.fs.Rename(tmp, dst); err != nil {
		return multierr.Append(err, t.fs.Remove(tmp))
	}
	t.stats.Transferred++
	return nil
}

func (t *transfer) copyToTemp(src, dir string, fi os.FileInfo) (string, error) {
	in, err := t.fs.Open(src)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	out, err := afero.TempFile(t.fs, dir, tempPrefix)
	if err != nil {
		return "", err
	}
	tmp := out.Name()
	fail := func(err error) (string, error) {
		_ = out.Close()
		return "", multierr.Append(err, t.fs.Remove(tmp))
	}

	if _, err = io.Copy(out, in); err != nil {
		return fail(err)
	}
	if err = out.Close(); err != nil {
		return "", multierr.Append(err, t.fs.Remove(tmp))
	}
	if err = t.setAttributes(tmp, fi); err != nil {
		return "", multierr.Append(err, t.fs.Remove(tmp))
	}
	return tmp, nil
}

// setAttributes applies mode, ownership when running as root, and modification time
func (t *transfer) setAttributes(p string, fi os.FileInfo) error {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok && os.Geteuid() == 0 {
		if err := t.fs.Chown(p, int(st.Uid), int(st.Gid)); err != nil {
			return err
		}
	}
	if err := t.fs.Chmod(p, fi.Mode().Perm()|fi.Mode()&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky)); err != nil {
		return err
	}
	return t.fs.Chtimes(p, fi.ModTime(), fi.ModTime())
}

func (t *transfer) mirrorSymlink(src, dst string) error {
	sl, ok := t.fs.(afero.Symlinker)
	if !ok {
		t.warn(fmt.Sprintf("skipping symlink %s: not supported by the file system", src))
		return nil
	}
	target, err := sl.ReadlinkIfPossible(src)
	if err != nil {
		return err
	}

	current, err := t.lstat(dst)
	switch {
	case err == nil && current.Mode()&os.ModeSymlink != 0:
		if got, rerr := sl.ReadlinkIfPossible(dst); rerr == nil && got == target {
			return nil
		}
	case err == nil && current.IsDir():
		if err = t.remove(dst); err != nil {
			return err
		}
	case err != nil && !os.IsNotExist(err):
		return err
	}

	tmp := filepath.Join(filepath.Dir(dst), tempPrefix+filepath.Base(dst))
	_ = t.fs.Remove(tmp)
	if err = sl.SymlinkIfPossible(target, tmp); err != nil {
		return err
	}
	if err = t.fs.Rename(tmp, dst); err != nil {
		return multierr.Append(err, t.fs.Remove(tmp))
	}
	t.stats.Transferred++
	return nil
}
