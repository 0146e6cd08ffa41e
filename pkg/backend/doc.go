// Copyright © 2018 One Concern

// Package backend provides an interface to handle the directories holding snapshots.
//
// This package supports the following backends:
//   - local file system
//   - remote host, through a single ssh connection held for the duration of a run
//
// Decorators add debug logging (instrumented) and dry runs (dryrun).
package backend
