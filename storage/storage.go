package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/models"
)

// DeleteResult reports the count of records removed by a delete operation.
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult reports the counts of records matched and modified by an
// update operation.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// StorageInterface defines the set of methods a persistent backend must
// implement. Lookups that treat absence as a normal outcome (single-record
// finds) return (nil, nil) when nothing matches; only operational failures
// produce errors. Fields are mapped explicitly per record type; filters are
// never built from request-shaped data.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error

	// Adds a new habit, assigning its ID.
	AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error)
	// Finds a habit by ID.
	FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error)
	// Finds the habits of one level inside an instance, ordered by sort order.
	// For the personal level, ownerID scopes the result to one user.
	FindHabitsByLevel(ctx context.Context, instanceID primitive.ObjectID, level models.HabitLevel, ownerID primitive.ObjectID) ([]models.Habit, error)
	// Finds the habits applicable to a user inside an instance: activity-level
	// habits plus the user's personal habits, optionally published only.
	FindApplicableHabits(ctx context.Context, instanceID, userID primitive.ObjectID, publishedOnly bool) ([]models.Habit, error)
	// Updates a habit's name and description.
	UpdateHabit(ctx context.Context, id primitive.ObjectID, name, description string) (*UpdateResult, error)
	// Sets a habit's published flag.
	PublishHabit(ctx context.Context, id primitive.ObjectID, published bool) (*UpdateResult, error)
	// Deletes a habit together with all its entries. Entries must never
	// outlive their habit.
	DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)

	// Adds a new entry, assigning its ID.
	AddEntry(ctx context.Context, entry *models.Entry) (*models.Entry, error)
	// Finds the entry for (habit, user, duration) whose timestamp falls in
	// [lower, upper], bounds inclusive.
	FindEntryInRange(ctx context.Context, habitID, userID primitive.ObjectID, duration int, lower, upper int64) (*models.Entry, error)
	// Finds an entry by any habit other than excludeHabit for (user, duration)
	// whose timestamp falls in [lower, upper]. Used to align sibling entries
	// logged in the same session onto one period timestamp.
	FindNeighborEntry(ctx context.Context, userID primitive.ObjectID, duration int, lower, upper int64, excludeHabit primitive.ObjectID) (*models.Entry, error)
	// Finds a user's entries across the given habits, insertion order
	// preserved. A non-positive duration matches any duration.
	FindUserEntries(ctx context.Context, habitIDs []primitive.ObjectID, userID primitive.ObjectID, duration int) ([]models.Entry, error)
	// Updates an entry's recorded values in place.
	UpdateEntryValues(ctx context.Context, id primitive.ObjectID, x, y int, updatedAt time.Time) (*UpdateResult, error)
	// Counts a user's entries across the given habits.
	CountEntries(ctx context.Context, habitIDs []primitive.ObjectID, userID primitive.ObjectID) (int64, error)

	// Adds a new break, assigning its ID.
	AddBreak(ctx context.Context, brk *models.Break) (*models.Break, error)
	// Finds a break matching (user, instance, start, end) exactly.
	FindBreak(ctx context.Context, userID, instanceID primitive.ObjectID, start, end int64) (*models.Break, error)
	// Finds a user's breaks inside an instance, newest end first.
	FindBreaks(ctx context.Context, instanceID, userID primitive.ObjectID) ([]models.Break, error)
	// Deletes a break only when createdBy matches its creator. The creator
	// check is part of the filter, so a mismatch reports zero deletions.
	DeleteBreak(ctx context.Context, id, createdBy primitive.ObjectID) (*DeleteResult, error)

	// Finds the preference record for an instance.
	FindPreference(ctx context.Context, instanceID primitive.ObjectID) (*models.Preference, error)
	// Inserts or replaces the preference record for an instance.
	SavePreference(ctx context.Context, pref *models.Preference) (*models.Preference, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
