package core

import "time"

// WeeklyDue tells if the weekly tier rotates on this date, i.e. on sundays
func WeeklyDue(t time.Time) bool {
	return t.Weekday() == time.Sunday
}

// MonthlyDue tells if the monthly tier rotates on this date, i.e. on the first day of a month
func MonthlyDue(t time.Time) bool {
	return t.Day() == 1
}

// PreviousWeekday yields the day before w
func PreviousWeekday(w time.Weekday) time.Weekday {
	return (w + 6) % 7
}

// PreviousMonth yields the 0-based index of the month before m: 0 is january, 11 is december
func PreviousMonth(m time.Month) int {
	return (int(m) + 10) % 12
}
