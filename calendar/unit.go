package calendar

import (
	"time"

	"github.com/openhabits/flexical/models"
)

// Unit is a single period in a calendar window, identified by the midnight UTC
// timestamp of the day that closes it. The period spans Days whole days up to
// and including the anchor day. Units are built transiently per lookup and are
// never persisted; only their anchor timestamp survives inside entry records.
type Unit struct {
	Anchor int64
	Days   Duration
}

// Limits returns the tolerance window around the anchor. Any timestamp inside
// it refers to this period.
func (u Unit) Limits() (lower, upper int64) {
	return u.Anchor - ErrorMargin, u.Anchor + ErrorMargin
}

// Matches reports whether ts falls inside the tolerance window, bounds
// inclusive.
func (u Unit) Matches(ts int64) bool {
	lower, upper := u.Limits()
	return ts >= lower && ts <= upper
}

// InBreak reports whether the anchor falls inside any break, each break
// expanded by the tolerance margin on both ends.
func (u Unit) InBreak(breaks []models.Break) bool {
	for _, b := range breaks {
		if u.Anchor >= b.Start-ErrorMargin && u.Anchor <= b.End+ErrorMargin {
			return true
		}
	}
	return false
}

// ClosestEntry returns the first entry whose stored timestamp falls inside the
// tolerance window, or nil. Ties between multiple in-window entries resolve to
// the earliest in slice order, not the nearest timestamp; the entry store's
// uniqueness discipline keeps that case from arising in practice.
func (u Unit) ClosestEntry(entries []models.Entry) *models.Entry {
	for i := range entries {
		if u.Matches(entries[i].EndOfPeriod) {
			return &entries[i]
		}
	}
	return nil
}

// PeriodStart returns the midnight timestamp of the first day of the period.
func (u Unit) PeriodStart() int64 {
	return u.Anchor - (u.Days.Seconds() - DaySeconds)
}

// Label renders the unit for display: the closing day for single-day periods,
// the covered range otherwise.
func (u Unit) Label() string {
	end := time.Unix(u.Anchor, 0).UTC()
	if u.Days == 1 {
		return end.Format("Mon 2 Jan")
	}
	start := time.Unix(u.PeriodStart(), 0).UTC()
	return start.Format("2 Jan") + " to " + end.Format("2 Jan")
}
