// Copyright © 2018 One Concern

package remote

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/oneconcern/snapback/pkg/backend"
	"github.com/oneconcern/snapback/pkg/backend/status"
	"github.com/oneconcern/snapback/pkg/command"
)

// markers echoed by test predicates: an empty output is never taken as an answer
const (
	markerYes = "SNAPBACK-YES"
	markerNo  = "SNAPBACK-NO"
)

// New creates a backend issuing shell commands through a runner
func New(r Runner) backend.Backend {
	return &remoteFS{runner: r}
}

type remoteFS struct {
	runner Runner
}

func (r *remoteFS) String() string {
	return "remote@" + r.runner.String()
}

var quote = command.Quote

// run executes a command line which must exit with status 0 and leave its error stream empty
func (r *remoteFS) run(ctx context.Context, line string) ([]byte, error) {
	stdout, stderr, err := r.runner.Run(ctx, line)
	msg := strings.TrimSpace(string(stderr))
	switch {
	case err != nil && msg != "":
		return stdout, fmt.Errorf("%s: %w", msg, err)
	case err != nil:
		return stdout, err
	case msg != "":
		return stdout, fmt.Errorf("%s", msg)
	}
	return stdout, nil
}

// test evaluates a shell predicate remotely
func (r *remoteFS) test(ctx context.Context, predicate string) (bool, error) {
	line := fmt.Sprintf("if %s; then echo %s; else echo %s; fi", predicate, markerYes, markerNo)
	stdout, err := r.run(ctx, line)
	if err != nil {
		return false, status.ErrRemoteCommand.Wrap(err)
	}
	switch strings.TrimSpace(string(stdout)) {
	case markerYes:
		return true, nil
	case markerNo:
		return false, nil
	default:
		return false, status.ErrRemoteCommand.Wrapf("unexpected answer to %q: %q", predicate, stdout)
	}
}

func exists(p string) string { return "[ -e " + quote(p) + " ]" }

func isDir(p string) string { return "[ -d " + quote(p) + " ]" }

// lexists also holds for dangling symlinks
func lexists(p string) string { return "{ [ -e " + quote(p) + " ] || [ -L " + quote(p) + " ]; }" }

func (r *remoteFS) Exists(ctx context.Context, p string) (bool, error) {
	return r.test(ctx, exists(p))
}

func (r *remoteFS) Mkdir(ctx context.Context, p string) error {
	if _, err := r.run(ctx, fmt.Sprintf("%s || mkdir -p -- %s", isDir(p), quote(p))); err != nil {
		return status.ErrDirectoryCreate.Wrap(err)
	}
	ok, err := r.test(ctx, isDir(p))
	if err != nil {
		return status.ErrDirectoryCreate.Wrap(err)
	}
	if !ok {
		return status.ErrDirectoryCreate.Wrapf("%q is not a directory", p)
	}
	return nil
}

func (r *remoteFS) RemoveTree(ctx context.Context, p string) error {
	if c := path.Clean(p); c == "/" || c == "." || p == "" {
		return status.ErrDirectoryRemove.Wrapf("refusing to remove %q", p)
	}
	ok, err := r.test(ctx, lexists(p))
	if err != nil {
		return status.ErrDirectoryRemove.Wrap(err)
	}
	if !ok {
		return nil
	}

	// snapshots may hold read-only directories: grant write access and retry once
	q := quote(p)
	line := fmt.Sprintf("rm -rf -- %s 2>/dev/null || { chmod -R u+rwx -- %s && rm -rf -- %s; }", q, q, q)
	_, runErr := r.run(ctx, line)

	ok, err = r.test(ctx, lexists(p))
	switch {
	case err != nil:
		return status.ErrDirectoryRemove.Wrap(err)
	case ok && runErr != nil:
		return status.ErrDirectoryRemove.Wrapf("residue remains at %q: %v", p, runErr)
	case ok:
		return status.ErrDirectoryRemove.Wrapf("residue remains at %q", p)
	}
	return nil
}

func (r *remoteFS) MoveDir(ctx context.Context, src, dst string) error {
	ok, err := r.test(ctx, lexists(src))
	if err != nil {
		return status.ErrDirectoryMove.Wrap(err)
	}
	if !ok {
		return nil
	}
	ok, err = r.test(ctx, lexists(dst))
	if err != nil {
		return status.ErrDirectoryMove.Wrap(err)
	}
	if ok {
		return status.ErrDirectoryMove.Wrapf("destination %q already exists", dst)
	}

	line := fmt.Sprintf("mkdir -p -- %s && mv -- %s %s", quote(path.Dir(dst)), quote(src), quote(dst))
	if _, err = r.run(ctx, line); err != nil {
		return status.ErrDirectoryMove.Wrap(err)
	}
	ok, err = r.test(ctx, exists(dst))
	if err != nil {
		return status.ErrDirectoryMove.Wrap(err)
	}
	if !ok {
		return status.ErrDirectoryMove.Wrapf("%q not found after move", dst)
	}
	return nil
}

func (r *remoteFS) HardlinkClone(ctx context.Context, src, dst string) error {
	ok, err := r.test(ctx, isDir(src))
	if err != nil {
		return status.ErrSnapshotClone.Wrap(err)
	}
	if !ok {
		return status.ErrSnapshotClone.Wrap(status.ErrNotExists.Wrapf("source %q", src))
	}
	ok, err = r.test(ctx, lexists(dst))
	if err != nil {
		return status.ErrSnapshotClone.Wrap(err)
	}
	if ok {
		return status.ErrSnapshotClone.Wrapf("destination %q already exists", dst)
	}

	line := fmt.Sprintf("mkdir -p -- %s && cp -al -- %s %s", quote(path.Dir(dst)), quote(src), quote(dst))
	if _, err = r.run(ctx, line); err != nil {
		if _, cerr := r.run(ctx, "rm -rf -- "+quote(dst)); cerr != nil {
			err = fmt.Errorf("%v (cleaning up partial clone: %v)", err, cerr)
		}
		return status.ErrSnapshotClone.Wrap(err)
	}
	ok, err = r.test(ctx, isDir(dst))
	if err != nil {
		return status.ErrSnapshotClone.Wrap(err)
	}
	if !ok {
		return status.ErrSnapshotClone.Wrapf("%q not found after clone", dst)
	}
	return nil
}

func (r *remoteFS) Symlink(ctx context.Context, target, linkPath string) error {
	l := quote(linkPath)
	line := fmt.Sprintf(
		"if [ -L %s ]; then rm -f -- %s; elif [ -e %s ]; then echo %s >&2; exit 1; fi; ln -s -- %s %s",
		l, l, l, quote(linkPath+" exists and is not a symlink"), quote(target), l,
	)
	if _, err := r.run(ctx, line); err != nil {
		return status.ErrSymlink.Wrap(err)
	}
	stdout, err := r.run(ctx, "readlink -- "+l)
	if err != nil {
		return status.ErrSymlink.Wrap(err)
	}
	if got := strings.TrimSuffix(string(stdout), "\n"); got != target {
		return status.ErrSymlink.Wrapf("%q points to %q, expected %q", linkPath, got, target)
	}
	return nil
}

func (r *remoteFS) Readlink(ctx context.Context, p string) (string, error) {
	ok, err := r.test(ctx, "[ -L "+quote(p)+" ]")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", status.ErrNotExists.Wrapf("no symlink at %q", p)
	}
	stdout, err := r.run(ctx, "readlink -- "+quote(p))
	if err != nil {
		return "", status.ErrRemoteCommand.Wrap(err)
	}
	return strings.TrimSuffix(string(stdout), "\n"), nil
}

func (r *remoteFS) Touch(ctx context.Context, p string) error {
	_, err := r.run(ctx, "touch -c -- "+quote(p))
	return err
}

// DiskUsage parses the POSIX output of df, in 1024-byte blocks:
//
//	Filesystem     1024-blocks      Used Available Capacity Mounted on
//	/dev/sda1        102400000  51200000  51200000      50% /volume1
func (r *remoteFS) DiskUsage(ctx context.Context, p string) (backend.Usage, error) {
	stdout, err := r.run(ctx, "df -Pk -- "+quote(p))
	if err != nil {
		return backend.Usage{}, status.ErrRemoteCommand.Wrap(err)
	}
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	if len(lines) < 2 {
		return backend.Usage{}, status.ErrRemoteCommand.Wrapf("unexpected df output: %q", stdout)
	}
	fields := bytes.Fields([]byte(lines[len(lines)-1]))
	if len(fields) < 6 {
		return backend.Usage{}, status.ErrRemoteCommand.Wrapf("unexpected df output: %q", stdout)
	}
	var values [3]uint64
	for i := range values {
		v, err := strconv.ParseUint(string(fields[i+1]), 10, 64)
		if err != nil {
			return backend.Usage{}, status.ErrRemoteCommand.Wrapf("unexpected df output: %q", stdout)
		}
		values[i] = v * 1024
	}
	return backend.Usage{Total: values[0], Used: values[1], Available: values[2]}, nil
}

func (r *remoteFS) Close() error {
	return r.runner.Close()
}
