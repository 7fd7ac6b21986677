package calendar

import "errors"

// ErrInvalidDuration is returned when a period duration outside the allowed
// set is used to build a calendar or validate an entry.
var ErrInvalidDuration = errors.New("period duration must be 1, 3, 5 or 7 days")

const (
	// ErrorMargin is the tolerance, in seconds, around a period's anchor
	// timestamp. Submissions drifting by less than this (late saves,
	// daylight-saving shifts) still land in the same period.
	ErrorMargin int64 = 18000

	// DaySeconds is one day in seconds. All period arithmetic runs on whole
	// UTC days.
	DaySeconds int64 = 86400

	// DefaultCount is the number of periods shown in a calendar window.
	DefaultCount = 8
)

// Duration is a period length in whole days. Only the values 1, 3, 5 and 7
// are valid; construct through NewDuration.
type Duration int

// NewDuration validates days against the allowed set.
func NewDuration(days int) (Duration, error) {
	switch days {
	case 1, 3, 5, 7:
		return Duration(days), nil
	}
	return 0, ErrInvalidDuration
}

// Days returns the duration as a plain day count.
func (d Duration) Days() int {
	return int(d)
}

// Seconds returns the duration in seconds.
func (d Duration) Seconds() int64 {
	return int64(d) * DaySeconds
}
