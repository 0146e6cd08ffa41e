// Copyright © 2018 One Concern

package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/oneconcern/snapback/pkg/backend"
	"github.com/oneconcern/snapback/pkg/core"
)

// RunOutcome is the outcome of a run, as rendered by the run formatters
type RunOutcome struct {
	core.Result `json:",inline" yaml:",inline"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRunOutcome pairs the result of a run with its error
func NewRunOutcome(res core.Result, err error) RunOutcome {
	o := RunOutcome{Result: res}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Succeeded tells if the run ended without error
func (o RunOutcome) Succeeded() bool {
	return o.Error == ""
}

// RunFormats renders a RunOutcome
func RunFormats() Formats {
	return NewFormats(FormatterFunc(runTable))
}

func runTable(w io.Writer, data interface{}) error {
	o, ok := data.(RunOutcome)
	if !ok {
		return fmt.Errorf("unexpected data for a run report: %T", data)
	}

	table := uitable.New()

	state := color.GreenString("success")
	switch {
	case !o.Succeeded():
		state = color.RedString("failed")
	case len(o.Warnings) > 0:
		state = color.YellowString("success with warnings")
	}
	if o.DryRun {
		state += color.HiBlackString(" (dry run)")
	}

	table.AddRow("Job:", o.Job)
	table.AddRow("Status:", state)
	table.AddRow("Started:", o.Start.Format(time.RFC3339))
	table.AddRow("Duration:", o.Elapsed().Round(time.Millisecond).String())
	if o.Slot != "" {
		table.AddRow("Snapshot:", color.MagentaString(o.Slot))
	}
	if len(o.Rotated) > 0 {
		tiers := make([]string, 0, len(o.Rotated))
		for _, t := range o.Rotated {
			tiers = append(tiers, string(t))
		}
		table.AddRow("Rotated:", strings.Join(tiers, ", "))
	}
	if o.Transfer.Transferred > 0 || o.Transfer.Deleted > 0 {
		table.AddRow("Files:", fmt.Sprintf("%d transferred, %d deleted", o.Transfer.Transferred, o.Transfer.Deleted))
	}
	if o.Usage != nil {
		table.AddRow("Destination:", usage(*o.Usage))
	}
	for i, warning := range o.Warnings {
		label := ""
		if i == 0 {
			label = "Warnings:"
		}
		table.AddRow(label, color.YellowString(warning))
	}
	if !o.Succeeded() {
		table.AddRow("Error:", color.RedString(o.Error))
	}

	_, err := fmt.Fprintln(w, table)
	return err
}

func usage(u backend.Usage) string {
	return fmt.Sprintf("%s used of %s (%.0f%%), %s available",
		units.HumanSize(float64(u.Used)),
		units.HumanSize(float64(u.Total)),
		u.Percent(),
		units.HumanSize(float64(u.Available)),
	)
}

// Run prints the outcome of a run as a table
func Run(w io.Writer, res core.Result, err error) error {
	return runTable(w, NewRunOutcome(res, err))
}
