// Copyright © 2018 One Concern

// Package status declares error constants returned by
// implementations of the Backend interface.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/backend and one
// of its implementations.
package status

import "github.com/oneconcern/snapback/pkg/errors"

var (
	// Sentinel errors returned by implementations of the interface defined by backend

	// ErrDirectoryCreate indicates that a directory could not be created, or does not verify as a directory afterwards
	ErrDirectoryCreate = errors.New("directory create failed")

	// ErrDirectoryRemove indicates that a directory tree could not be removed entirely
	ErrDirectoryRemove = errors.New("directory remove failed")

	// ErrDirectoryMove indicates that a directory tree could not be relocated
	ErrDirectoryMove = errors.New("directory move failed")

	// ErrSnapshotClone indicates that a hardlinked copy of a snapshot could not be produced
	ErrSnapshotClone = errors.New("snapshot clone failed")

	// ErrSymlink indicates that a symbolic link could not be replaced or does not resolve as expected
	ErrSymlink = errors.New("symlink update failed")

	// ErrNotExists indicates that the path does not exist
	ErrNotExists = errors.New("path doesn't exist")

	// ErrRemoteCommand indicates that a command could not be run on the remote host
	ErrRemoteCommand = errors.New("remote command failed")

	// ErrNotSupported indicates that the backend does not support this call
	ErrNotSupported = errors.New("not supported")
)
