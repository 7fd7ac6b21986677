package habits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/auth"
	"github.com/openhabits/flexical/models"
	"github.com/openhabits/flexical/storage"
)

func memberCaps(userID primitive.ObjectID) auth.Capabilities {
	return auth.ForSession(&auth.Session{UserID: userID})
}

func managerCaps(userID primitive.ObjectID) auth.Capabilities {
	return auth.ForSession(&auth.Session{UserID: userID, Roles: []string{auth.RoleManager}})
}

func TestAddPersonalAssignsDenseSortOrder(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	s := NewService(mem)

	instanceID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	first, err := s.Add(ctx, memberCaps(userID), userID, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, Name: "Read",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.SortOrder)
	assert.Equal(t, userID, first.OwnerID)

	second, err := s.Add(ctx, memberCaps(userID), userID, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, Name: "Stretch",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.SortOrder)

	// Another user's sequence starts over.
	otherID := primitive.NewObjectID()
	other, err := s.Add(ctx, memberCaps(otherID), otherID, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, Name: "Run",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, other.SortOrder)
}

func TestAddActivityRequiresManager(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	s := NewService(mem)

	instanceID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	_, err := s.Add(ctx, memberCaps(userID), userID, &models.Habit{
		InstanceID: instanceID, Level: models.LevelActivity, Name: "Attend",
	})
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)

	habit, err := s.Add(ctx, managerCaps(userID), userID, &models.Habit{
		InstanceID: instanceID, Level: models.LevelActivity, Name: "Attend",
	})
	require.NoError(t, err)
	assert.True(t, habit.OwnerID.IsZero())
	assert.Negative(t, habit.SortOrder)
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	s := NewService(storage.NewMemoryStorage())
	userID := primitive.NewObjectID()

	_, err := s.Add(ctx, memberCaps(userID), userID, &models.Habit{
		InstanceID: primitive.NewObjectID(), Level: models.LevelPersonal,
	})
	assert.ErrorIs(t, err, ErrInvalidHabit)

	_, err = s.Add(ctx, memberCaps(userID), userID, &models.Habit{
		Level: models.LevelPersonal, Name: "Read",
	})
	assert.ErrorIs(t, err, ErrInvalidHabit)

	_, err = s.Add(ctx, memberCaps(userID), userID, &models.Habit{
		InstanceID: primitive.NewObjectID(), Level: "team", Name: "Read",
	})
	assert.ErrorIs(t, err, ErrInvalidHabit)
}

func TestUpdateGatedOnOwnership(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	s := NewService(mem)

	instanceID := primitive.NewObjectID()
	owner := primitive.NewObjectID()

	habit, err := s.Add(ctx, memberCaps(owner), owner, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, Name: "Read",
	})
	require.NoError(t, err)

	stranger := primitive.NewObjectID()
	err = s.Update(ctx, memberCaps(stranger), stranger, habit.ID, "Read more", "")
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)

	require.NoError(t, s.Update(ctx, memberCaps(owner), owner, habit.ID, "Read more", "Twenty pages"))
	updated, err := mem.FindHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.Equal(t, "Read more", updated.Name)
	assert.Equal(t, "Twenty pages", updated.Description)

	err = s.Update(ctx, memberCaps(owner), owner, habit.ID, "", "")
	assert.ErrorIs(t, err, ErrInvalidHabit)
}

func TestPublishActivityRequiresManager(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	s := NewService(mem)

	instanceID := primitive.NewObjectID()
	manager := primitive.NewObjectID()

	habit, err := s.Add(ctx, managerCaps(manager), manager, &models.Habit{
		InstanceID: instanceID, Level: models.LevelActivity, Name: "Attend",
	})
	require.NoError(t, err)

	member := primitive.NewObjectID()
	err = s.Publish(ctx, memberCaps(member), member, habit.ID, true)
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)

	require.NoError(t, s.Publish(ctx, managerCaps(manager), manager, habit.ID, true))
	published, err := mem.FindHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.True(t, published.Published)
}

func TestDeleteCascadesEntries(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	s := NewService(mem)

	instanceID := primitive.NewObjectID()
	owner := primitive.NewObjectID()

	habit, err := s.Add(ctx, memberCaps(owner), owner, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, Name: "Read",
	})
	require.NoError(t, err)

	_, err = mem.AddEntry(ctx, &models.Entry{
		HabitID:        habit.ID,
		UserID:         owner,
		PeriodDuration: 7,
		EndOfPeriod:    time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix(),
		XValue:         2,
		YValue:         2,
		EntryType:      models.EntryTwoDimensional,
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, memberCaps(owner), owner, habit.ID))

	gone, err := mem.FindHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	count, err := mem.CountEntries(ctx, []primitive.ObjectID{habit.ID}, owner)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListForUser(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	s := NewService(mem)

	instanceID := primitive.NewObjectID()
	manager := primitive.NewObjectID()
	member := primitive.NewObjectID()

	activity, err := s.Add(ctx, managerCaps(manager), manager, &models.Habit{
		InstanceID: instanceID, Level: models.LevelActivity, Name: "Attend", Published: true,
	})
	require.NoError(t, err)
	mine, err := s.Add(ctx, memberCaps(member), member, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, Name: "Read",
	})
	require.NoError(t, err)
	_, err = s.Add(ctx, memberCaps(manager), manager, &models.Habit{
		InstanceID: instanceID, Level: models.LevelPersonal, Name: "Manager's own",
	})
	require.NoError(t, err)

	visible, err := s.ListForUser(ctx, instanceID, member, false)
	require.NoError(t, err)
	require.Len(t, visible, 2)

	// Activity habits sort ahead of personal ones.
	assert.Equal(t, activity.ID, visible[0].ID)
	assert.Equal(t, mine.ID, visible[1].ID)
}
