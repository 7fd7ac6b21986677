package breaks

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/auth"
	"github.com/openhabits/flexical/calendar"
	"github.com/openhabits/flexical/models"
	"github.com/openhabits/flexical/storage"
)

// ErrInvalidRange is returned when a break's start timestamp falls after its
// end timestamp.
var ErrInvalidRange = errors.New("break start must not be after its end")

// Registry stores and queries a user's exclusion windows. Periods anchored
// inside a break earn no completion credit.
type Registry struct {
	store storage.StorageInterface
}

// NewRegistry creates a Registry over the given storage backend.
func NewRegistry(store storage.StorageInterface) *Registry {
	return &Registry{store: store}
}

// Add records a break for a user. Re-adding an identical
// (user, instance, start, end) break is a no-op returning the existing
// record.
func (r *Registry) Add(ctx context.Context, userID, instanceID, createdBy primitive.ObjectID, start, end int64) (*models.Break, error) {
	if start > end {
		return nil, ErrInvalidRange
	}

	existing, err := r.store.FindBreak(ctx, userID, instanceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate break: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	brk := &models.Break{
		UserID:     userID,
		InstanceID: instanceID,
		CreatedBy:  createdBy,
		Start:      start,
		End:        end,
	}
	return r.store.AddBreak(ctx, brk)
}

// ListForUser returns a user's breaks inside an instance, newest end first.
func (r *Registry) ListForUser(ctx context.Context, instanceID, userID primitive.ObjectID) ([]models.Break, error) {
	return r.store.FindBreaks(ctx, instanceID, userID)
}

// Delete removes a break. Only the creator may delete; the check rides the
// delete filter, and a zero-row result surfaces as ErrPermissionDenied rather
// than a silent no-op.
func (r *Registry) Delete(ctx context.Context, breakID, requestingUserID primitive.ObjectID) error {
	result, err := r.store.DeleteBreak(ctx, breakID, requestingUserID)
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return auth.ErrPermissionDenied
	}
	return nil
}

// IsInBreak reports whether the timestamp falls inside any of the user's
// breaks, each expanded by the tolerance margin on both ends, bounds
// inclusive.
func (r *Registry) IsInBreak(ctx context.Context, instanceID, userID primitive.ObjectID, ts int64) (bool, error) {
	userBreaks, err := r.store.FindBreaks(ctx, instanceID, userID)
	if err != nil {
		return false, err
	}
	for _, b := range userBreaks {
		if ts >= b.Start-calendar.ErrorMargin && ts <= b.End+calendar.ErrorMargin {
			return true, nil
		}
	}
	return false, nil
}

// SkipPeriod records a break covering exactly one period starting at ts, so a
// user can exclude a period from completion accounting without logging an
// entry.
func (r *Registry) SkipPeriod(ctx context.Context, userID, instanceID primitive.ObjectID, ts int64, days calendar.Duration) (*models.Break, error) {
	end := ts + (days.Seconds() - calendar.DaySeconds)
	return r.Add(ctx, userID, instanceID, userID, ts, end)
}
