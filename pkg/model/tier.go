package model

import (
	"github.com/oneconcern/snapback/pkg/core/status"
)

// TierName identifies a retention tier. It is also the name of the tier directory.
type TierName string

// Retention tiers
const (
	Daily   TierName = "daily"
	Weekly  TierName = "weekly"
	Monthly TierName = "monthly"
)

// Tier is a fixed-size, ordered collection of named slots.
type Tier struct {
	Name  TierName
	slots []string
}

// Tier definitions. Slot names are part of the on-disk format and must not change.
var (
	// DailyTier is indexed by weekday, 0 = sunday
	DailyTier = Tier{Name: Daily, slots: []string{
		"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
	}}

	// WeeklyTier is a FIFO ring, 0 = most recent week
	WeeklyTier = Tier{Name: Weekly, slots: []string{
		"week1", "week2", "week3", "week4",
	}}

	// MonthlyTier is indexed by calendar month, 0 = january
	MonthlyTier = Tier{Name: Monthly, slots: []string{
		"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december",
	}}
)

// Tiers yields all tiers, in promotion order
func Tiers() []Tier {
	return []Tier{DailyTier, WeeklyTier, MonthlyTier}
}

// Size is the number of slots in the tier
func (t Tier) Size() int {
	return len(t.slots)
}

// SlotName yields the name of the slot at index i
func (t Tier) SlotName(i int) (string, error) {
	if i < 0 || i >= len(t.slots) {
		return "", status.ErrInvalidSlot.Wrapf("%s tier has no slot #%d", t.Name, i)
	}
	return t.slots[i], nil
}

// SlotNames yields the names of all slots, in index order
func (t Tier) SlotNames() []string {
	return append([]string(nil), t.slots...)
}

func (t Tier) mustSlotName(i int) string {
	n, err := t.SlotName(i)
	if err != nil {
		panic(err)
	}
	return n
}
