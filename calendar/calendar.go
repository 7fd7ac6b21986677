package calendar

// Area names the page a calendar window is rendered for. It only affects how
// callers build navigation links, never the window arithmetic.
type Area string

const (
	AreaView   Area = "view"
	AreaReview Area = "review"
)

// Calendar generates a fixed-size window of periods ending at BaseDate and
// computes the pagination boundaries around it. BaseDate must already sit on a
// period boundary; callers normalize arbitrary dates through EndOfPeriod
// before constructing.
type Calendar struct {
	Days     Duration
	BaseDate int64
	Count    int
	Area     Area

	units []Unit
}

// New validates the duration and builds a calendar window. A non-positive
// count falls back to DefaultCount.
func New(days int, baseDate int64, count int, area Area) (*Calendar, error) {
	d, err := NewDuration(days)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultCount
	}
	return &Calendar{Days: d, BaseDate: baseDate, Count: count, Area: area}, nil
}

// EndOfPeriod right-aligns an arbitrary timestamp to the next period boundary
// at or after it: the whole-day index since the epoch is rounded down to a
// multiple of the duration and advanced one period if that lands on or before
// the input day. The result is midnight UTC of the boundary day.
func EndOfPeriod(days Duration, from int64) int64 {
	day := from / DaySeconds
	candidate := (day / int64(days)) * int64(days)
	if candidate <= day {
		candidate += int64(days)
	}
	return candidate * DaySeconds
}

// Generate returns the window's periods oldest first: exactly Count units,
// strictly increasing, spaced Days apart, the last anchored at BaseDate.
func (c *Calendar) Generate() []Unit {
	if c.units != nil {
		return c.units
	}
	startDay := c.BaseDate - (int64(c.Count)*c.Days.Seconds() - DaySeconds)
	c.units = make([]Unit, 0, c.Count)
	anchor := startDay + (c.Days.Seconds() - DaySeconds)
	for i := 0; i < c.Count; i++ {
		c.units = append(c.units, Unit{Anchor: anchor, Days: c.Days})
		anchor += c.Days.Seconds()
	}
	return c.units
}

// Earliest returns the oldest period in the window.
func (c *Calendar) Earliest() Unit {
	return c.Generate()[0]
}

// Latest returns the newest period in the window.
func (c *Calendar) Latest() Unit {
	return c.Generate()[c.Count-1]
}

// PageBack returns the base date of the next-older window: one full window
// length earlier, so the new window's latest period closes immediately before
// this window's earliest begins. An override replaces Count for the step size.
func (c *Calendar) PageBack(overrideCount ...int) int64 {
	n := c.Count
	if len(overrideCount) > 0 && overrideCount[0] > 0 {
		n = overrideCount[0]
	}
	return c.BaseDate - int64(n)*c.Days.Seconds()
}

// PageForward returns the base date of the next-newer window, clamped to the
// period boundary containing now. The second result is false when the window
// already shows the most recent available period.
func (c *Calendar) PageForward(now int64, overrideCount ...int) (int64, bool) {
	n := c.Count
	if len(overrideCount) > 0 && overrideCount[0] > 0 {
		n = overrideCount[0]
	}
	next := c.BaseDate + int64(n)*c.Days.Seconds()
	if limit := EndOfPeriod(c.Days, now); next > limit {
		next = limit
	}
	if next <= c.BaseDate {
		return 0, false
	}
	return next, true
}

// LatestForQuestions scans the window newest first and returns the first
// period that is mostly over, so users are not asked to score a period that
// has barely begun. The second result is false when no period qualifies.
func (c *Calendar) LatestForQuestions(now int64) (Unit, bool) {
	units := c.Generate()
	for i := len(units) - 1; i >= 0; i-- {
		elapsed := units[i].Anchor + (c.Days.Seconds()*4)/5
		if elapsed < now {
			return units[i], true
		}
	}
	return Unit{}, false
}
