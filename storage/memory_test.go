package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/models"
)

func TestFindEntryInRangeBounds(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()

	habitID := primitive.NewObjectID()
	userID := primitive.NewObjectID()
	anchor := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix()

	_, err := mem.AddEntry(ctx, &models.Entry{
		HabitID: habitID, UserID: userID, PeriodDuration: 7, EndOfPeriod: anchor,
	})
	require.NoError(t, err)

	got, err := mem.FindEntryInRange(ctx, habitID, userID, 7, anchor, anchor)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Bounds are inclusive on both ends.
	got, err = mem.FindEntryInRange(ctx, habitID, userID, 7, anchor-100, anchor)
	require.NoError(t, err)
	assert.NotNil(t, got)
	got, err = mem.FindEntryInRange(ctx, habitID, userID, 7, anchor+1, anchor+100)
	require.NoError(t, err)
	assert.Nil(t, got)

	// A different duration is a different bucket.
	got, err = mem.FindEntryInRange(ctx, habitID, userID, 1, anchor, anchor)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindNeighborEntryExcludesHabit(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()

	habitID := primitive.NewObjectID()
	userID := primitive.NewObjectID()
	anchor := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix()

	_, err := mem.AddEntry(ctx, &models.Entry{
		HabitID: habitID, UserID: userID, PeriodDuration: 7, EndOfPeriod: anchor,
	})
	require.NoError(t, err)

	got, err := mem.FindNeighborEntry(ctx, userID, 7, anchor, anchor, habitID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = mem.FindNeighborEntry(ctx, userID, 7, anchor, anchor, primitive.NewObjectID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, habitID, got.HabitID)
}

func TestFindApplicableHabits(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()

	instanceID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	activity, err := mem.AddHabit(ctx, &models.Habit{
		InstanceID: instanceID, Level: models.LevelActivity, Published: true, Name: "Attend", SortOrder: -999999,
	})
	require.NoError(t, err)
	mine, err := mem.AddHabit(ctx, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, OwnerID: userID, Name: "Read", SortOrder: 1,
	})
	require.NoError(t, err)
	_, err = mem.AddHabit(ctx, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, OwnerID: primitive.NewObjectID(), Name: "Other", SortOrder: 1,
	})
	require.NoError(t, err)
	_, err = mem.AddHabit(ctx, &models.Habit{
		InstanceID: primitive.NewObjectID(), Level: models.LevelActivity, Published: true, Name: "Elsewhere",
	})
	require.NoError(t, err)

	habits, err := mem.FindApplicableHabits(ctx, instanceID, userID, false)
	require.NoError(t, err)
	require.Len(t, habits, 2)
	assert.Equal(t, activity.ID, habits[0].ID)
	assert.Equal(t, mine.ID, habits[1].ID)

	published, err := mem.FindApplicableHabits(ctx, instanceID, userID, true)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, activity.ID, published[0].ID)
}

func TestDeleteHabitCascadesEntries(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()

	habit, err := mem.AddHabit(ctx, &models.Habit{
		InstanceID: primitive.NewObjectID(), Level: models.LevelActivity, Name: "Attend",
	})
	require.NoError(t, err)
	userID := primitive.NewObjectID()

	_, err = mem.AddEntry(ctx, &models.Entry{HabitID: habit.ID, UserID: userID, PeriodDuration: 7})
	require.NoError(t, err)

	result, err := mem.DeleteHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedCount)

	count, err := mem.CountEntries(ctx, []primitive.ObjectID{habit.ID}, userID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSavePreferenceUpserts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()
	instanceID := primitive.NewObjectID()

	first, err := mem.SavePreference(ctx, &models.Preference{InstanceID: instanceID, Frequency: 7})
	require.NoError(t, err)

	second, err := mem.SavePreference(ctx, &models.Preference{InstanceID: instanceID, Frequency: 3, MinEntries: 5})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := mem.FindPreference(ctx, instanceID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Frequency)
	assert.Equal(t, 5, got.MinEntries)

	missing, err := mem.FindPreference(ctx, primitive.NewObjectID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
