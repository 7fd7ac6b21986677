package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/models"
)

func TestMatchesBounds(t *testing.T) {
	anchor := date(2024, time.January, 15)
	unit := Unit{Anchor: anchor, Days: 7}

	assert.True(t, unit.Matches(anchor))
	assert.True(t, unit.Matches(anchor-ErrorMargin))
	assert.True(t, unit.Matches(anchor+ErrorMargin))
	assert.False(t, unit.Matches(anchor-ErrorMargin-1))
	assert.False(t, unit.Matches(anchor+ErrorMargin+1))
}

func TestLimits(t *testing.T) {
	anchor := date(2024, time.January, 15)
	lower, upper := Unit{Anchor: anchor, Days: 1}.Limits()
	assert.Equal(t, anchor-ErrorMargin, lower)
	assert.Equal(t, anchor+ErrorMargin, upper)
}

func TestInBreakExpandsMargin(t *testing.T) {
	start := date(2024, time.January, 8)
	end := date(2024, time.January, 12)
	breaks := []models.Break{{Start: start, End: end}}

	assert.True(t, Unit{Anchor: start - ErrorMargin, Days: 7}.InBreak(breaks))
	assert.True(t, Unit{Anchor: end + ErrorMargin, Days: 7}.InBreak(breaks))
	assert.False(t, Unit{Anchor: start - ErrorMargin - 1, Days: 7}.InBreak(breaks))
	assert.False(t, Unit{Anchor: end + ErrorMargin + 1, Days: 7}.InBreak(breaks))
	assert.False(t, Unit{Anchor: end + DaySeconds, Days: 7}.InBreak(nil))
}

func TestClosestEntry(t *testing.T) {
	anchor := date(2024, time.January, 15)
	unit := Unit{Anchor: anchor, Days: 7}

	first := models.Entry{ID: primitive.NewObjectID(), EndOfPeriod: anchor + 100}
	second := models.Entry{ID: primitive.NewObjectID(), EndOfPeriod: anchor - 50}
	outside := models.Entry{ID: primitive.NewObjectID(), EndOfPeriod: anchor + ErrorMargin + 1}

	got := unit.ClosestEntry([]models.Entry{outside, first, second})
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	assert.Nil(t, unit.ClosestEntry([]models.Entry{outside}))
	assert.Nil(t, unit.ClosestEntry(nil))
}

func TestPeriodStart(t *testing.T) {
	anchor := date(2024, time.January, 15)
	assert.Equal(t, anchor, Unit{Anchor: anchor, Days: 1}.PeriodStart())
	assert.Equal(t, date(2024, time.January, 9), Unit{Anchor: anchor, Days: 7}.PeriodStart())
}

func TestLabel(t *testing.T) {
	anchor := date(2024, time.January, 15)
	assert.Equal(t, "Mon 15 Jan", Unit{Anchor: anchor, Days: 1}.Label())
	assert.Equal(t, "9 Jan to 15 Jan", Unit{Anchor: anchor, Days: 7}.Label())
	assert.Equal(t, "13 Jan to 15 Jan", Unit{Anchor: anchor, Days: 3}.Label())
}
