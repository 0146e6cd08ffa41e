// Copyright © 2018 One Concern

package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/oneconcern/snapback/pkg/core"
	"github.com/oneconcern/snapback/pkg/model"
)

// InventoryFormats renders a core.Inventory
func InventoryFormats() Formats {
	return NewFormats(FormatterFunc(inventoryTable))
}

func inventoryTable(w io.Writer, data interface{}) error {
	inv, ok := data.(core.Inventory)
	if !ok {
		return fmt.Errorf("unexpected data for an inventory report: %T", data)
	}

	table := uitable.New()
	table.AddRow("TIER", "SLOT", "STATE", "PATH")
	for _, s := range inv.Slots {
		state := color.HiBlackString("empty")
		if s.Populated {
			state = color.GreenString("present")
		}
		name := s.Name
		if inv.Latest != "" && inv.Latest == string(s.Tier)+"/"+s.Name {
			name = color.YellowString("*") + name
		}
		table.AddRow(string(s.Tier), name, state, s.Path)
	}

	if _, err := fmt.Fprintln(w, table); err != nil {
		return err
	}

	summary := uitable.New()
	for _, tier := range model.Tiers() {
		summary.AddRow(string(tier.Name)+":", fmt.Sprintf("%d/%d", inv.Populated(tier.Name), tier.Size()))
	}
	latest := inv.Latest
	if latest == "" {
		latest = color.HiBlackString("none")
	}
	summary.AddRow("latest:", latest)
	if inv.Usage != nil {
		summary.AddRow("destination:", usage(*inv.Usage))
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// Inventory prints the slots of a destination as a table
func Inventory(w io.Writer, inv core.Inventory) error {
	return inventoryTable(w, inv)
}
