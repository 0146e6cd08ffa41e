package core

import (
	"context"

	"github.com/oneconcern/snapback/pkg/backend"
	backendstatus "github.com/oneconcern/snapback/pkg/backend/status"
	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/oneconcern/snapback/pkg/model"
	"go.uber.org/zap"
)

// SlotState tells whether a slot holds a snapshot
type SlotState struct {
	Tier      model.TierName `json:"tier" yaml:"tier"`
	Name      string         `json:"name" yaml:"name"`
	Path      string         `json:"path" yaml:"path"`
	Populated bool           `json:"populated" yaml:"populated"`
}

// Inventory describes the slots found on a destination
type Inventory struct {
	Root   string         `json:"root" yaml:"root"`
	Slots  []SlotState    `json:"slots" yaml:"slots"`
	Latest string         `json:"latest,omitempty" yaml:"latest,omitempty"`
	Usage  *backend.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// Populated counts the populated slots of a tier
func (i Inventory) Populated(tier model.TierName) int {
	n := 0
	for _, s := range i.Slots {
		if s.Tier == tier && s.Populated {
			n++
		}
	}
	return n
}

// Inventory lists every slot of every tier, in tier order. Nothing is modified.
//
// An empty directory created ahead of its first rotation counts as populated.
func (e *Engine) Inventory(ctx context.Context) (Inventory, error) {
	inv := Inventory{Root: e.layout.Root}
	for _, tier := range model.Tiers() {
		for i, name := range tier.SlotNames() {
			p := e.layout.SlotPath(tier, i)
			ok, err := e.backend.Exists(ctx, p)
			if err != nil {
				return inv, err
			}
			inv.Slots = append(inv.Slots, SlotState{Tier: tier.Name, Name: name, Path: p, Populated: ok})
		}
	}

	target, err := e.backend.Readlink(ctx, e.layout.Latest())
	switch {
	case err == nil:
		inv.Latest = target
	case errors.Is(err, backendstatus.ErrNotExists):
	default:
		return inv, err
	}

	if u, err := e.backend.DiskUsage(ctx, e.layout.Root); err == nil {
		inv.Usage = &u
	} else {
		e.l.Debug("disk usage unavailable", zap.Error(err))
	}
	return inv, nil
}
