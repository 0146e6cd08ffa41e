package model

import (
	"path"
	"time"
)

// LatestLinkName is the name of the symlink to the last completed daily slot
const LatestLinkName = "latest"

// Layout resolves tier and slot paths under a destination root.
type Layout struct {
	Root string
}

// NewLayout builds a layout for a destination root
func NewLayout(root string) Layout {
	return Layout{Root: path.Clean(root)}
}

// TierPath yields the tier directory, e.g. {root}/weekly
func (l Layout) TierPath(t Tier) string {
	return path.Join(l.Root, string(t.Name))
}

// SlotPath yields the path of slot i of tier t. It panics on an out of range index.
func (l Layout) SlotPath(t Tier, i int) string {
	return path.Join(l.Root, string(t.Name), t.mustSlotName(i))
}

// DailySlot yields the daily slot for a weekday, e.g. {root}/daily/thursday
func (l Layout) DailySlot(d time.Weekday) string {
	return l.SlotPath(DailyTier, int(d))
}

// WeeklySlot yields weekly slot i, 0 being the most recent week ({root}/weekly/week1)
func (l Layout) WeeklySlot(i int) string {
	return l.SlotPath(WeeklyTier, i)
}

// MonthlySlot yields monthly slot i, 0 being january
func (l Layout) MonthlySlot(i int) string {
	return l.SlotPath(MonthlyTier, i)
}

// Latest yields the path of the latest pointer
func (l Layout) Latest() string {
	return path.Join(l.Root, LatestLinkName)
}

// LatestTarget yields the target of the latest pointer for a weekday.
//
// The target is relative to the destination root, so the tree remains browsable
// when mounted elsewhere.
func (l Layout) LatestTarget(d time.Weekday) string {
	return path.Join(string(Daily), DailyTier.mustSlotName(int(d)))
}
