// Copyright © 2018 One Concern

package backend

import (
	"context"
)

// Backend knows how to perform the primitive directory operations needed to rotate snapshots.
//
// Implementations either act on the local file system or issue commands on a remote host.
// Every mutating operation verifies its post-condition and reports a failure with one of the
// sentinel errors declared in package status.
type Backend interface {
	String() string

	// Exists tells if a path exists. An error means that the answer is not known.
	Exists(context.Context, string) (bool, error)

	// Mkdir creates a directory and its parents. It is a no-op on an existing directory.
	Mkdir(context.Context, string) error

	// RemoveTree recursively removes a directory. It is a no-op on an absent path.
	RemoveTree(context.Context, string) error

	// MoveDir renames a directory tree. It is a no-op when the source is absent,
	// and fails when the destination already exists.
	MoveDir(ctx context.Context, src, dst string) error

	// HardlinkClone copies a directory tree where every file is a hardlink to the source file.
	HardlinkClone(ctx context.Context, src, dst string) error

	// Symlink creates or replaces a symbolic link at linkPath, pointing to target.
	Symlink(ctx context.Context, target, linkPath string) error

	// Readlink yields the target of a symbolic link.
	Readlink(context.Context, string) (string, error)

	// Touch sets the modification time of a path to now.
	Touch(context.Context, string) error

	// DiskUsage reports the space of the file system holding a path.
	DiskUsage(context.Context, string) (Usage, error)

	// Close releases any resource held by the backend, such as a remote session.
	Close() error
}

// Usage describes the space of a file system
type Usage struct {
	Total     uint64 `json:"total" yaml:"total"`
	Used      uint64 `json:"used" yaml:"used"`
	Available uint64 `json:"available" yaml:"available"`
}

// Percent yields the used share of the file system, from 0 to 100
func (u Usage) Percent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used) * 100 / float64(u.Total)
}
