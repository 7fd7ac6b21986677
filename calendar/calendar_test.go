package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// date is a test helper that returns the unix timestamp of midnight UTC.
func date(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix()
}

func TestNewDurationValidation(t *testing.T) {
	for _, days := range []int{1, 3, 5, 7} {
		d, err := NewDuration(days)
		assert.NoError(t, err)
		assert.Equal(t, days, d.Days())
	}
	for _, days := range []int{0, 2, 4, 6, 8, -1, 14} {
		_, err := NewDuration(days)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	}
}

func TestNewDefaultsCount(t *testing.T) {
	cal, err := New(7, date(2024, time.January, 15), 0, AreaView)
	require.NoError(t, err)
	assert.Equal(t, DefaultCount, cal.Count)

	cal, err = New(7, date(2024, time.January, 15), -3, AreaView)
	require.NoError(t, err)
	assert.Equal(t, DefaultCount, cal.Count)

	_, err = New(2, date(2024, time.January, 15), 8, AreaView)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestEndOfPeriodProperties(t *testing.T) {
	froms := []int64{
		date(2024, time.January, 15),
		date(2024, time.January, 15) + 12*3600,
		date(2023, time.December, 31) + 1,
		date(2024, time.February, 29) + 86399,
	}
	for _, days := range []int{1, 3, 5, 7} {
		d, err := NewDuration(days)
		require.NoError(t, err)
		for _, from := range froms {
			end := EndOfPeriod(d, from)
			assert.Greater(t, end, from)
			assert.LessOrEqual(t, end, from+d.Seconds())
			assert.Zero(t, end%DaySeconds)
			assert.Zero(t, (end/DaySeconds)%int64(days))
		}
	}
}

func TestEndOfPeriodConcrete(t *testing.T) {
	weekly, err := NewDuration(7)
	require.NoError(t, err)

	// The 7-day grid counts whole weeks from the epoch, so boundaries land
	// on Thursdays.
	end := EndOfPeriod(weekly, date(2024, time.January, 15)+12*3600)
	assert.Equal(t, date(2024, time.January, 18), end)

	daily, err := NewDuration(1)
	require.NoError(t, err)
	end = EndOfPeriod(daily, date(2024, time.January, 15)+12*3600)
	assert.Equal(t, date(2024, time.January, 16), end)
}

func TestGenerateWeeklyWindow(t *testing.T) {
	base := date(2024, time.January, 15)
	cal, err := New(7, base, 8, AreaView)
	require.NoError(t, err)

	units := cal.Generate()
	require.Len(t, units, 8)

	assert.Equal(t, date(2023, time.November, 27), units[0].Anchor)
	assert.Equal(t, base, units[7].Anchor)
	for i := 1; i < len(units); i++ {
		assert.Equal(t, 7*DaySeconds, units[i].Anchor-units[i-1].Anchor)
	}

	assert.Equal(t, units[0], cal.Earliest())
	assert.Equal(t, units[7], cal.Latest())
}

func TestGenerateDailyWindow(t *testing.T) {
	base := date(2024, time.January, 15)
	cal, err := New(1, base, 8, AreaView)
	require.NoError(t, err)

	units := cal.Generate()
	require.Len(t, units, 8)
	assert.Equal(t, date(2024, time.January, 8), units[0].Anchor)
	assert.Equal(t, base, units[7].Anchor)
}

func TestPageBack(t *testing.T) {
	base := date(2024, time.January, 15)
	cal, err := New(7, base, 8, AreaView)
	require.NoError(t, err)

	assert.Equal(t, date(2023, time.November, 20), cal.PageBack())
	assert.Equal(t, base-28*DaySeconds, cal.PageBack(4))
}

func TestPageForwardClampsToNow(t *testing.T) {
	base := date(2023, time.June, 5)
	now := date(2024, time.January, 15) + 12*3600
	cal, err := New(7, base, 8, AreaView)
	require.NoError(t, err)

	weekly, _ := NewDuration(7)
	limit := EndOfPeriod(weekly, now)

	next, ok := cal.PageForward(now)
	require.True(t, ok)
	assert.LessOrEqual(t, next, limit)
	assert.Greater(t, next, base)
}

func TestPageForwardAtNewestWindow(t *testing.T) {
	now := date(2024, time.January, 15) + 12*3600
	weekly, _ := NewDuration(7)
	base := EndOfPeriod(weekly, now)

	cal, err := New(7, base, 8, AreaView)
	require.NoError(t, err)

	_, ok := cal.PageForward(now)
	assert.False(t, ok)
}

func TestPageRoundTrip(t *testing.T) {
	base := date(2023, time.January, 16)
	now := date(2026, time.January, 15)

	cal, err := New(7, base, 8, AreaView)
	require.NoError(t, err)

	next, ok := cal.PageForward(now)
	require.True(t, ok)
	assert.Equal(t, base+56*DaySeconds, next)

	forward, err := New(7, next, 8, AreaView)
	require.NoError(t, err)
	assert.Equal(t, base, forward.PageBack())
}

func TestLatestForQuestions(t *testing.T) {
	base := date(2024, time.January, 15)
	cal, err := New(7, base, 8, AreaView)
	require.NoError(t, err)

	// The newest period has barely begun; the one before is mostly over.
	now := base + DaySeconds
	unit, ok := cal.LatestForQuestions(now)
	require.True(t, ok)
	assert.Equal(t, base-7*DaySeconds, unit.Anchor)

	// Just past the 80% mark the newest period qualifies.
	now = base + (7*DaySeconds*4)/5 + 1
	unit, ok = cal.LatestForQuestions(now)
	require.True(t, ok)
	assert.Equal(t, base, unit.Anchor)
}

func TestLatestForQuestionsNoneElapsed(t *testing.T) {
	base := date(2024, time.January, 15)
	cal, err := New(7, base, 8, AreaView)
	require.NoError(t, err)

	now := cal.Earliest().Anchor - DaySeconds
	_, ok := cal.LatestForQuestions(now)
	assert.False(t, ok)
}
