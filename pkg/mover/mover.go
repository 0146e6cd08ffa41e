// Copyright © 2018 One Concern

// Package mover declares the port used to refresh a snapshot slot from the live sources.
//
// A Mover performs a mirroring transfer: afterwards the destination holds exactly the files
// of the sources, minus the excluded patterns. Files deleted from the sources, and files
// matching an exclude pattern, are removed from the destination even when they were
// inherited through a hardlink clone.
//
// With a single source, the content of the source lands directly in the destination.
// With several sources, each one lands in a sub-directory named after its base name.
package mover

import (
	"context"
	"path"

	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/model"
	"go.uber.org/zap"
)

// Request to refresh a destination from a set of sources
type Request struct {
	Sources     []model.Location
	Destination model.Location
	Excludes    []string
}

// Stats reported by a transfer. Counters are left at zero by movers which cannot report them.
type Stats struct {
	Transferred int
	Deleted     int
	Warnings    []string
}

// Mover refreshes a destination from the sources of a request
type Mover interface {
	String() string
	Move(context.Context, Request) (Stats, error)
}

// Validate checks that a request is consistent
func (r Request) Validate() error {
	if len(r.Sources) == 0 {
		return status.ErrValidation.Wrapf("no source to transfer")
	}
	if r.Destination.Path == "" {
		return status.ErrValidation.Wrapf("no destination to transfer to")
	}
	if len(r.Sources) > 1 {
		seen := make(map[string]model.Location, len(r.Sources))
		for _, s := range r.Sources {
			base := path.Base(s.Path)
			if other, ok := seen[base]; ok {
				return status.ErrValidation.Wrapf("sources %q and %q would land in the same directory %q", other, s, base)
			}
			seen[base] = s
		}
	}
	for _, s := range r.Sources {
		if s.IsRemote() && r.Destination.IsRemote() {
			return status.ErrValidation.Wrapf("source %q and destination %q cannot both be remote", s, r.Destination)
		}
	}
	return nil
}

// Noop is a mover which transfers nothing. It serves dry runs.
type Noop struct {
	Logger *zap.Logger
}

func (Noop) String() string { return "noop" }

// Move logs the request
func (n Noop) Move(_ context.Context, r Request) (Stats, error) {
	if err := r.Validate(); err != nil {
		return Stats{}, err
	}
	if n.Logger != nil {
		sources := make([]string, 0, len(r.Sources))
		for _, s := range r.Sources {
			sources = append(sources, s.String())
		}
		n.Logger.Info("would transfer",
			zap.Strings("sources", sources),
			zap.Stringer("destination", r.Destination),
			zap.Strings("excludes", r.Excludes),
		)
	}
	return Stats{}, nil
}
