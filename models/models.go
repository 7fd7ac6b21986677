package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HabitLevel distinguishes habits shared by every participant of an activity
// instance from habits owned by a single user.
type HabitLevel string

const (
	LevelActivity HabitLevel = "activity"
	LevelPersonal HabitLevel = "personal"
)

// EntryType tags the shape of an entry's recorded values. Only the
// two-dimensional effort/outcome shape exists today; the tag is kept so new
// shapes can be added without a schema migration.
type EntryType string

const (
	EntryTwoDimensional EntryType = "two_dimensional"
)

// Habit is a tracked habit inside an activity instance. Activity-level habits
// have a zero OwnerID and are visible to all participants; personal habits
// belong to exactly one user. SortOrder is a dense sequence per
// (instance, level); activity-level habits occupy a disjoint negative range so
// both levels reorder independently.
type Habit struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	InstanceID  primitive.ObjectID `bson:"instance_id" json:"instance_id"`
	Level       HabitLevel         `bson:"level" json:"level"`
	OwnerID     primitive.ObjectID `bson:"owner_id,omitempty" json:"owner_id"`
	Published   bool               `bson:"published" json:"published"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description" json:"description"`
	SortOrder   int                `bson:"sort_order" json:"sort_order"`
}

// Entry is one logged effort/outcome pair for a habit, keyed to the closing
// timestamp of a period. EndOfPeriod is midnight UTC of the day that closes the
// period; the tolerance window around it, not exact equality, defines entry
// identity (see the entries package).
type Entry struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	HabitID        primitive.ObjectID `bson:"habit_id" json:"habit_id"`
	UserID         primitive.ObjectID `bson:"user_id" json:"user_id"`
	PeriodDuration int                `bson:"period_duration" json:"period_duration"`
	EndOfPeriod    int64              `bson:"end_of_period" json:"end_of_period"`
	XValue         int                `bson:"x_value" json:"x_value"`
	YValue         int                `bson:"y_value" json:"y_value"`
	EntryType      EntryType          `bson:"entry_type" json:"entry_type"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// Break is a user-defined exclusion window. Periods whose anchor falls inside
// the tolerance-expanded interval earn no completion credit. Only the creator
// may delete a break.
type Break struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	InstanceID primitive.ObjectID `bson:"instance_id" json:"instance_id"`
	CreatedBy  primitive.ObjectID `bson:"created_by" json:"created_by"`
	Start      int64              `bson:"start" json:"start"`
	End        int64              `bson:"end" json:"end"`
}

// Preference holds the per-instance configuration: the period frequency in
// days and the completion thresholds. A threshold of zero means the rule is
// unset and does not participate in completion evaluation.
type Preference struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	InstanceID         primitive.ObjectID `bson:"instance_id" json:"instance_id"`
	Frequency          int                `bson:"frequency" json:"frequency"`
	MinHabits          int                `bson:"min_habits" json:"min_habits"`
	MinEntries         int                `bson:"min_entries" json:"min_entries"`
	MinPeriodsComplete int                `bson:"min_periods_complete" json:"min_periods_complete"`
	Combinator         string             `bson:"combinator" json:"combinator"`
}
