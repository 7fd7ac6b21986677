package habits

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/auth"
	"github.com/openhabits/flexical/models"
	"github.com/openhabits/flexical/storage"
)

// activitySortOffset pushes activity-level sort orders into a negative range
// disjoint from personal habits, so the two levels reorder independently.
const activitySortOffset = -1000000

// ErrInvalidHabit is returned when a habit's fields fail validation.
var ErrInvalidHabit = errors.New("invalid habit fields")

// Service manages habit records: creation with dense sort-order assignment,
// capability-gated edits, and cascade deletion of entries.
type Service struct {
	store storage.StorageInterface
}

// NewService creates a Service over the given storage backend.
func NewService(store storage.StorageInterface) *Service {
	return &Service{store: store}
}

// Add creates a habit for the actor. Activity-level habits require the
// manage-habits capability and carry no owner; personal habits are owned by
// the actor. The sort order extends the level's dense sequence.
func (s *Service) Add(ctx context.Context, caps auth.Capabilities, actor primitive.ObjectID, habit *models.Habit) (*models.Habit, error) {
	if habit.Name == "" || habit.InstanceID.IsZero() {
		return nil, ErrInvalidHabit
	}

	switch habit.Level {
	case models.LevelActivity:
		if !caps.CanManageHabits(actor, habit.InstanceID) {
			return nil, auth.ErrPermissionDenied
		}
		habit.OwnerID = primitive.NilObjectID
	case models.LevelPersonal:
		habit.OwnerID = actor
	default:
		return nil, ErrInvalidHabit
	}

	siblings, err := s.store.FindHabitsByLevel(ctx, habit.InstanceID, habit.Level, habit.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sibling habits: %w", err)
	}
	habit.SortOrder = len(siblings) + 1
	if habit.Level == models.LevelActivity {
		habit.SortOrder += activitySortOffset
	}

	return s.store.AddHabit(ctx, habit)
}

// Update edits a habit's name and description, gated on the edit capability.
func (s *Service) Update(ctx context.Context, caps auth.Capabilities, actor, habitID primitive.ObjectID, name, description string) error {
	habit, err := s.mustFind(ctx, habitID)
	if err != nil {
		return err
	}
	if !caps.CanEditHabit(actor, habit) {
		return auth.ErrPermissionDenied
	}
	if name == "" {
		return ErrInvalidHabit
	}
	_, err = s.store.UpdateHabit(ctx, habitID, name, description)
	return err
}

// Publish toggles a habit's published flag, gated on the edit capability.
// Unpublished habits stay invisible to completion accounting.
func (s *Service) Publish(ctx context.Context, caps auth.Capabilities, actor, habitID primitive.ObjectID, published bool) error {
	habit, err := s.mustFind(ctx, habitID)
	if err != nil {
		return err
	}
	if !caps.CanEditHabit(actor, habit) {
		return auth.ErrPermissionDenied
	}
	_, err = s.store.PublishHabit(ctx, habitID, published)
	return err
}

// Delete removes a habit and all its entries, gated on the edit capability.
func (s *Service) Delete(ctx context.Context, caps auth.Capabilities, actor, habitID primitive.ObjectID) error {
	habit, err := s.mustFind(ctx, habitID)
	if err != nil {
		return err
	}
	if !caps.CanEditHabit(actor, habit) {
		return auth.ErrPermissionDenied
	}
	_, err = s.store.DeleteHabit(ctx, habitID)
	return err
}

// ListForUser returns the habits visible to a user inside an instance:
// activity-level habits plus the user's own personal habits.
func (s *Service) ListForUser(ctx context.Context, instanceID, userID primitive.ObjectID, publishedOnly bool) ([]models.Habit, error) {
	return s.store.FindApplicableHabits(ctx, instanceID, userID, publishedOnly)
}

func (s *Service) mustFind(ctx context.Context, habitID primitive.ObjectID) (*models.Habit, error) {
	habit, err := s.store.FindHabit(ctx, habitID)
	if err != nil {
		return nil, fmt.Errorf("failed to load habit: %w", err)
	}
	if habit == nil {
		return nil, errors.New("habit does not exist")
	}
	return habit, nil
}
