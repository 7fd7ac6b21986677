package completion

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/calendar"
	"github.com/openhabits/flexical/models"
	"github.com/openhabits/flexical/storage"
)

// DefaultFrequency is the period length assumed when an instance has no
// stored preference record.
const DefaultFrequency = 7

// Combinator chooses how the threshold rules combine.
type Combinator string

const (
	CombinatorAll Combinator = "and"
	CombinatorAny Combinator = "or"
)

// Thresholds are an instance's completion minimums. A zero value unsets the
// rule: it is skipped, never treated as "at least zero".
type Thresholds struct {
	MinHabits          int
	MinEntries         int
	MinPeriodsComplete int
}

// ThresholdsFromPreference lifts the stored preference into Thresholds.
// A nil preference yields all-unset rules.
func ThresholdsFromPreference(pref *models.Preference) Thresholds {
	if pref == nil {
		return Thresholds{}
	}
	return Thresholds{
		MinHabits:          pref.MinHabits,
		MinEntries:         pref.MinEntries,
		MinPeriodsComplete: pref.MinPeriodsComplete,
	}
}

// Aggregator computes per-period and cross-period completion from entries,
// breaks and thresholds. It holds no state between calls; everything derives
// from the records read per invocation.
type Aggregator struct {
	store storage.StorageInterface
}

// NewAggregator creates an Aggregator over the given storage backend.
func NewAggregator(store storage.StorageInterface) *Aggregator {
	return &Aggregator{store: store}
}

// HabitsMissingForPeriod returns the published habits applicable to the user
// that have no entry inside [lower, upper].
func (a *Aggregator) HabitsMissingForPeriod(ctx context.Context, instanceID, userID primitive.ObjectID, lower, upper int64) ([]primitive.ObjectID, error) {
	habits, err := a.store.FindApplicableHabits(ctx, instanceID, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load applicable habits: %w", err)
	}
	if len(habits) == 0 {
		return nil, nil
	}

	habitIDs := collectIDs(habits)
	entries, err := a.store.FindUserEntries(ctx, habitIDs, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	covered := make(map[primitive.ObjectID]bool, len(habits))
	for _, e := range entries {
		if e.EndOfPeriod >= lower && e.EndOfPeriod <= upper {
			covered[e.HabitID] = true
		}
	}

	var missing []primitive.ObjectID
	for _, h := range habits {
		if !covered[h.ID] {
			missing = append(missing, h.ID)
		}
	}
	return missing, nil
}

// PeriodFullyComplete reports whether every published habit applicable to the
// user has an entry inside the period and the period's anchor is outside the
// user's breaks. A user with no applicable habits never completes a period;
// completing nothing earns no credit.
func (a *Aggregator) PeriodFullyComplete(ctx context.Context, instanceID, userID primitive.ObjectID, unit calendar.Unit) (bool, error) {
	habits, err := a.store.FindApplicableHabits(ctx, instanceID, userID, true)
	if err != nil {
		return false, fmt.Errorf("failed to load applicable habits: %w", err)
	}
	if len(habits) == 0 {
		return false, nil
	}

	userBreaks, err := a.store.FindBreaks(ctx, instanceID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load breaks: %w", err)
	}
	if unit.InBreak(userBreaks) {
		return false, nil
	}

	lower, upper := unit.Limits()
	missing, err := a.HabitsMissingForPeriod(ctx, instanceID, userID, lower, upper)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// PeriodsFullyCompleteCount counts the periods in which the user completed
// every applicable published habit, skipping periods inside breaks. Only
// entries stored with the instance's currently configured frequency count;
// stale entries from an earlier frequency setting are ignored.
func (a *Aggregator) PeriodsFullyCompleteCount(ctx context.Context, instanceID, userID primitive.ObjectID) (int, error) {
	frequency, err := a.instanceFrequency(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	days, err := calendar.NewDuration(frequency)
	if err != nil {
		return 0, err
	}

	habits, err := a.store.FindApplicableHabits(ctx, instanceID, userID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to load applicable habits: %w", err)
	}
	if len(habits) == 0 {
		return 0, nil
	}

	habitIDs := collectIDs(habits)
	entries, err := a.store.FindUserEntries(ctx, habitIDs, userID, frequency)
	if err != nil {
		return 0, fmt.Errorf("failed to load entries: %w", err)
	}

	userBreaks, err := a.store.FindBreaks(ctx, instanceID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load breaks: %w", err)
	}

	// Distinct timestamps identify candidate periods. Snap-to keeps a
	// session's entries on one timestamp, so near-duplicate anchors inside a
	// single tolerance window collapse to the first seen.
	seen := make(map[int64]struct{})
	var anchors []int64
	for _, e := range entries {
		if _, ok := seen[e.EndOfPeriod]; ok {
			continue
		}
		seen[e.EndOfPeriod] = struct{}{}
		anchors = append(anchors, e.EndOfPeriod)
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i] < anchors[j] })

	count := 0
	var lastCounted int64
	countedAny := false
	for _, anchor := range anchors {
		unit := calendar.Unit{Anchor: anchor, Days: days}
		if countedAny && unit.Matches(lastCounted) {
			continue
		}
		if unit.InBreak(userBreaks) {
			continue
		}
		covered := make(map[primitive.ObjectID]bool, len(habits))
		for _, e := range entries {
			if unit.Matches(e.EndOfPeriod) {
				covered[e.HabitID] = true
			}
		}
		if len(covered) == len(habits) {
			count++
			lastCounted = anchor
			countedAny = true
		}
	}
	return count, nil
}

// TotalEntries counts the user's entries across every habit visible to them
// in the instance, published or not.
func (a *Aggregator) TotalEntries(ctx context.Context, instanceID, userID primitive.ObjectID) (int64, error) {
	habits, err := a.store.FindApplicableHabits(ctx, instanceID, userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to load habits: %w", err)
	}
	if len(habits) == 0 {
		return 0, nil
	}
	return a.store.CountEntries(ctx, collectIDs(habits), userID)
}

// EvaluateCompletion combines the threshold rules with the given combinator.
// Unset rules (zero thresholds) are skipped; if every rule is unset the
// evaluation is vacuously true.
func (a *Aggregator) EvaluateCompletion(ctx context.Context, th Thresholds, instanceID, userID primitive.ObjectID, comb Combinator) (bool, error) {
	var results []bool

	if th.MinHabits > 0 {
		habits, err := a.store.FindApplicableHabits(ctx, instanceID, userID, false)
		if err != nil {
			return false, fmt.Errorf("failed to load habits: %w", err)
		}
		results = append(results, len(habits) >= th.MinHabits)
	}

	if th.MinEntries > 0 {
		total, err := a.TotalEntries(ctx, instanceID, userID)
		if err != nil {
			return false, err
		}
		results = append(results, total >= int64(th.MinEntries))
	}

	if th.MinPeriodsComplete > 0 {
		periods, err := a.PeriodsFullyCompleteCount(ctx, instanceID, userID)
		if err != nil {
			return false, err
		}
		results = append(results, periods >= th.MinPeriodsComplete)
	}

	if len(results) == 0 {
		return true, nil
	}

	if comb == CombinatorAny {
		for _, ok := range results {
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	for _, ok := range results {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// instanceFrequency reads the instance's configured period length, falling
// back to DefaultFrequency when no preference is stored.
func (a *Aggregator) instanceFrequency(ctx context.Context, instanceID primitive.ObjectID) (int, error) {
	pref, err := a.store.FindPreference(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load preference: %w", err)
	}
	if pref == nil || pref.Frequency == 0 {
		return DefaultFrequency, nil
	}
	return pref.Frequency, nil
}

func collectIDs(habits []models.Habit) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(habits))
	for _, h := range habits {
		ids = append(ids, h.ID)
	}
	return ids
}
