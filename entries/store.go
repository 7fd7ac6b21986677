package entries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/calendar"
	"github.com/openhabits/flexical/models"
	"github.com/openhabits/flexical/storage"
)

// ErrNotFound is returned when an update targets an entry that no longer
// exists. The upsert path looks the record up immediately beforehand, so this
// indicates an internal invariant violation rather than user error.
var ErrNotFound = errors.New("entry to update does not exist")

// ErrInvalidValue is returned when an effort or outcome value falls outside
// the 1..3 grid.
var ErrInvalidValue = errors.New("entry values must be between 1 and 3")

// Store reconciles submitted entries against existing records. Identity is a
// tolerance window, not an exact timestamp: submissions within the margin of
// an existing entry for the same (habit, user, duration) update it in place.
type Store struct {
	store storage.StorageInterface
}

// NewStore creates a Store over the given storage backend.
func NewStore(store storage.StorageInterface) *Store {
	return &Store{store: store}
}

// Upsert records an effort/outcome pair for a habit against the period
// closing at endOfPeriod.
//
// An existing entry for (habit, user, duration) inside the tolerance window
// is updated in place, so repeated submissions for the same logical period
// stay one record no matter how the timestamps drift within the margin.
//
// For a new record, if any *other* habit already holds an entry for this user
// and duration inside the window, its exact timestamp is reused. Habits
// logged in one sitting then share an identical period timestamp and group
// into the same calendar column even though each submission computed its
// timestamp independently.
func (s *Store) Upsert(ctx context.Context, habit *models.Habit, userID primitive.ObjectID, endOfPeriod int64, days calendar.Duration, x, y int) (*models.Entry, error) {
	if x < 1 || x > 3 || y < 1 || y > 3 {
		return nil, ErrInvalidValue
	}

	unit := calendar.Unit{Anchor: endOfPeriod, Days: days}
	lower, upper := unit.Limits()

	existing, err := s.store.FindEntryInRange(ctx, habit.ID, userID, days.Days(), lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing entry: %w", err)
	}

	if existing != nil {
		now := time.Now().UTC()
		result, err := s.store.UpdateEntryValues(ctx, existing.ID, x, y, now)
		if err != nil {
			return nil, fmt.Errorf("failed to update entry: %w", err)
		}
		if result.MatchedCount == 0 {
			return nil, ErrNotFound
		}
		existing.XValue = x
		existing.YValue = y
		existing.UpdatedAt = now
		return existing, nil
	}

	// Snap to a sibling habit's timestamp from the same session, if any.
	ts := endOfPeriod
	neighbor, err := s.store.FindNeighborEntry(ctx, userID, days.Days(), lower, upper, habit.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up neighbor entry: %w", err)
	}
	if neighbor != nil {
		ts = neighbor.EndOfPeriod
	}

	now := time.Now().UTC()
	entry := &models.Entry{
		HabitID:        habit.ID,
		UserID:         userID,
		PeriodDuration: days.Days(),
		EndOfPeriod:    ts,
		XValue:         x,
		YValue:         y,
		EntryType:      models.EntryTwoDimensional,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.store.AddEntry(ctx, entry)
}
