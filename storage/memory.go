package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/models"
)

// MemoryStorage is an in-memory StorageInterface used by tests and local
// development. Records keep insertion order, matching the sorted-by-_id reads
// of the Mongo backend, so first-match reconciliation behaves identically.
type MemoryStorage struct {
	mu          sync.RWMutex
	habits      []models.Habit
	entries     []models.Entry
	breaks      []models.Break
	preferences []models.Preference
}

// NewMemoryStorage returns an empty in-memory store. Connect and Disconnect
// are no-ops.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Connect(dbName, uri string) error { return nil }

func (m *MemoryStorage) Disconnect() error { return nil }

func (m *MemoryStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	habit.ID = primitive.NewObjectID()
	m.habits = append(m.habits, *habit)
	return habit, nil
}

func (m *MemoryStorage) FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.habits {
		if m.habits[i].ID == id {
			habit := m.habits[i]
			return &habit, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindHabitsByLevel(ctx context.Context, instanceID primitive.ObjectID, level models.HabitLevel, ownerID primitive.ObjectID) ([]models.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var habits []models.Habit
	for _, h := range m.habits {
		if h.InstanceID != instanceID || h.Level != level {
			continue
		}
		if level == models.LevelPersonal && h.OwnerID != ownerID {
			continue
		}
		habits = append(habits, h)
	}
	sort.SliceStable(habits, func(i, j int) bool {
		return habits[i].SortOrder < habits[j].SortOrder
	})
	return habits, nil
}

func (m *MemoryStorage) FindApplicableHabits(ctx context.Context, instanceID, userID primitive.ObjectID, publishedOnly bool) ([]models.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var habits []models.Habit
	for _, h := range m.habits {
		if h.InstanceID != instanceID {
			continue
		}
		if h.Level == models.LevelPersonal && h.OwnerID != userID {
			continue
		}
		if publishedOnly && !h.Published {
			continue
		}
		habits = append(habits, h)
	}
	sort.SliceStable(habits, func(i, j int) bool {
		return habits[i].SortOrder < habits[j].SortOrder
	})
	return habits, nil
}

func (m *MemoryStorage) UpdateHabit(ctx context.Context, id primitive.ObjectID, name, description string) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.habits {
		if m.habits[i].ID == id {
			m.habits[i].Name = name
			m.habits[i].Description = description
			return &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	return &UpdateResult{}, nil
}

func (m *MemoryStorage) PublishHabit(ctx context.Context, id primitive.ObjectID, published bool) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.habits {
		if m.habits[i].ID == id {
			m.habits[i].Published = published
			return &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	return &UpdateResult{}, nil
}

func (m *MemoryStorage) DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.HabitID != id {
			kept = append(kept, e)
		}
	}
	m.entries = kept

	for i := range m.habits {
		if m.habits[i].ID == id {
			m.habits = append(m.habits[:i], m.habits[i+1:]...)
			return &DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &DeleteResult{}, nil
}

func (m *MemoryStorage) AddEntry(ctx context.Context, entry *models.Entry) (*models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = primitive.NewObjectID()
	m.entries = append(m.entries, *entry)
	return entry, nil
}

func (m *MemoryStorage) FindEntryInRange(ctx context.Context, habitID, userID primitive.ObjectID, duration int, lower, upper int64) (*models.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.entries {
		e := m.entries[i]
		if e.HabitID == habitID && e.UserID == userID && e.PeriodDuration == duration &&
			e.EndOfPeriod >= lower && e.EndOfPeriod <= upper {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindNeighborEntry(ctx context.Context, userID primitive.ObjectID, duration int, lower, upper int64, excludeHabit primitive.ObjectID) (*models.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.entries {
		e := m.entries[i]
		if e.HabitID != excludeHabit && e.UserID == userID && e.PeriodDuration == duration &&
			e.EndOfPeriod >= lower && e.EndOfPeriod <= upper {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindUserEntries(ctx context.Context, habitIDs []primitive.ObjectID, userID primitive.ObjectID, duration int) ([]models.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[primitive.ObjectID]struct{}, len(habitIDs))
	for _, id := range habitIDs {
		wanted[id] = struct{}{}
	}
	var entries []models.Entry
	for _, e := range m.entries {
		if _, ok := wanted[e.HabitID]; !ok {
			continue
		}
		if e.UserID != userID {
			continue
		}
		if duration > 0 && e.PeriodDuration != duration {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (m *MemoryStorage) UpdateEntryValues(ctx context.Context, id primitive.ObjectID, x, y int, updatedAt time.Time) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].XValue = x
			m.entries[i].YValue = y
			m.entries[i].UpdatedAt = updatedAt
			return &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	return &UpdateResult{}, nil
}

func (m *MemoryStorage) CountEntries(ctx context.Context, habitIDs []primitive.ObjectID, userID primitive.ObjectID) (int64, error) {
	entries, err := m.FindUserEntries(ctx, habitIDs, userID, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

func (m *MemoryStorage) AddBreak(ctx context.Context, brk *models.Break) (*models.Break, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	brk.ID = primitive.NewObjectID()
	m.breaks = append(m.breaks, *brk)
	return brk, nil
}

func (m *MemoryStorage) FindBreak(ctx context.Context, userID, instanceID primitive.ObjectID, start, end int64) (*models.Break, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.breaks {
		b := m.breaks[i]
		if b.UserID == userID && b.InstanceID == instanceID && b.Start == start && b.End == end {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindBreaks(ctx context.Context, instanceID, userID primitive.ObjectID) ([]models.Break, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var breaks []models.Break
	for _, b := range m.breaks {
		if b.InstanceID == instanceID && b.UserID == userID {
			breaks = append(breaks, b)
		}
	}
	sort.SliceStable(breaks, func(i, j int) bool {
		return breaks[i].End > breaks[j].End
	})
	return breaks, nil
}

func (m *MemoryStorage) DeleteBreak(ctx context.Context, id, createdBy primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.breaks {
		if m.breaks[i].ID == id && m.breaks[i].CreatedBy == createdBy {
			m.breaks = append(m.breaks[:i], m.breaks[i+1:]...)
			return &DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &DeleteResult{}, nil
}

func (m *MemoryStorage) FindPreference(ctx context.Context, instanceID primitive.ObjectID) (*models.Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.preferences {
		if m.preferences[i].InstanceID == instanceID {
			pref := m.preferences[i]
			return &pref, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) SavePreference(ctx context.Context, pref *models.Preference) (*models.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.preferences {
		if m.preferences[i].InstanceID == pref.InstanceID {
			pref.ID = m.preferences[i].ID
			m.preferences[i] = *pref
			return pref, nil
		}
	}
	pref.ID = primitive.NewObjectID()
	m.preferences = append(m.preferences, *pref)
	return pref, nil
}
