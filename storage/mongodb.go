package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/openhabits/flexical/models"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on the habit, entry,
// break and preference collections.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and
// database name. Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	// Set a timeout for the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Initializing habits collection
	habitsCollection := m.client.Database(m.dbName).Collection("habits")

	// Compound index covering the by-level listing queries.
	habitScopeIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "instance_id", Value: 1},
			{Key: "level", Value: 1},
			{Key: "owner_id", Value: 1},
		},
		Options: options.Index(),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, habitScopeIndexModel)
	if err != nil {
		return fmt.Errorf("error creating habit scope index: %v", err)
	}

	// Initializing entries collection
	entriesCollection := m.client.Database(m.dbName).Collection("entries")

	// Unique index on the entry identity tuple. Tolerance-window dedupe
	// happens above the store; this backstops the exact-timestamp case so a
	// concurrent double-submit cannot create two identical rows.
	entryIdentityIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "habit_id", Value: 1},
			{Key: "user_id", Value: 1},
			{Key: "period_duration", Value: 1},
			{Key: "end_of_period", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = entriesCollection.Indexes().CreateOne(ctx, entryIdentityIndexModel)
	if err != nil {
		return fmt.Errorf("error creating entry identity index: %v", err)
	}

	// Index serving the session-neighbor range scans.
	entryRangeIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "period_duration", Value: 1},
			{Key: "end_of_period", Value: 1},
		},
		Options: options.Index(),
	}

	_, err = entriesCollection.Indexes().CreateOne(ctx, entryRangeIndexModel)
	if err != nil {
		return fmt.Errorf("error creating entry range index: %v", err)
	}

	// Initializing breaks collection
	breaksCollection := m.client.Database(m.dbName).Collection("breaks")

	breakScopeIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "instance_id", Value: 1},
			{Key: "user_id", Value: 1},
		},
		Options: options.Index(),
	}

	_, err = breaksCollection.Indexes().CreateOne(ctx, breakScopeIndexModel)
	if err != nil {
		return fmt.Errorf("error creating break scope index: %v", err)
	}

	// Initializing preferences collection
	preferencesCollection := m.client.Database(m.dbName).Collection("preferences")

	// One preference record per activity instance.
	preferenceIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"instance_id": 1,
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = preferencesCollection.Indexes().CreateOne(ctx, preferenceIndexModel)
	if err != nil {
		return fmt.Errorf("error creating preference index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// AddHabit adds a new habit document to the 'habits' collection.
// Returns the added habit instance and an error if the insert operation fails.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.InsertOne(ctx, habit)
	if err != nil {
		return nil, err
	}

	habit.ID = result.InsertedID.(primitive.ObjectID)
	return habit, nil
}

// FindHabit finds a habit document by its ID.
// Returns (nil, nil) when no habit matches.
func (m *MongoStorage) FindHabit(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result := collection.FindOne(ctx, bson.M{"_id": id})
	habit := &models.Habit{}
	err := result.Decode(habit)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// FindHabitsByLevel finds the habits of one level inside an instance, ordered
// by sort order. For the personal level the result is scoped to ownerID.
func (m *MongoStorage) FindHabitsByLevel(ctx context.Context, instanceID primitive.ObjectID, level models.HabitLevel, ownerID primitive.ObjectID) ([]models.Habit, error) {
	filter := bson.M{
		"instance_id": instanceID,
		"level":       level,
	}
	if level == models.LevelPersonal {
		filter["owner_id"] = ownerID
	}

	collection := m.client.Database(m.dbName).Collection("habits")
	cursor, err := collection.Find(ctx, filter, options.Find().SetSort(bson.M{"sort_order": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return decodeHabits(ctx, cursor)
}

// FindApplicableHabits finds the habits a user can complete inside an
// instance: every activity-level habit plus the user's own personal habits.
func (m *MongoStorage) FindApplicableHabits(ctx context.Context, instanceID, userID primitive.ObjectID, publishedOnly bool) ([]models.Habit, error) {
	filter := bson.M{
		"instance_id": instanceID,
		"$or": []bson.M{
			{"level": models.LevelActivity},
			{"level": models.LevelPersonal, "owner_id": userID},
		},
	}
	if publishedOnly {
		filter["published"] = true
	}

	collection := m.client.Database(m.dbName).Collection("habits")
	cursor, err := collection.Find(ctx, filter, options.Find().SetSort(bson.M{"sort_order": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return decodeHabits(ctx, cursor)
}

// UpdateHabit updates a habit's name and description.
// Returns the result of the update operation as an UpdateResult instance and
// an error if the update operation fails.
func (m *MongoStorage) UpdateHabit(ctx context.Context, id primitive.ObjectID, name, description string) (*UpdateResult, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	update := bson.M{"$set": bson.M{"name": name, "description": description}}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// PublishHabit sets a habit's published flag.
func (m *MongoStorage) PublishHabit(ctx context.Context, id primitive.ObjectID, published bool) (*UpdateResult, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"published": published}})
	if err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteHabit deletes a habit document and every entry logged against it, so
// entries never outlive their habit.
// Returns the result of the delete operation as a DeleteResult instance and an
// error if the delete operation fails.
func (m *MongoStorage) DeleteHabit(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	// Delete the entries first; a habit without entries is harmless, entries
	// without a habit are an invariant violation.
	_, err := m.client.Database(m.dbName).Collection("entries").DeleteMany(ctx, bson.M{"habit_id": id})
	if err != nil {
		return nil, err
	}

	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddEntry adds a new entry document to the 'entries' collection.
// Returns the added entry instance and an error if the insert operation fails.
func (m *MongoStorage) AddEntry(ctx context.Context, entry *models.Entry) (*models.Entry, error) {
	collection := m.client.Database(m.dbName).Collection("entries")
	result, err := collection.InsertOne(ctx, entry)
	if err != nil {
		return nil, err
	}

	entry.ID = result.InsertedID.(primitive.ObjectID)
	return entry, nil
}

// FindEntryInRange finds the entry for (habit, user, duration) whose stored
// timestamp falls in [lower, upper]. Returns (nil, nil) when none matches.
func (m *MongoStorage) FindEntryInRange(ctx context.Context, habitID, userID primitive.ObjectID, duration int, lower, upper int64) (*models.Entry, error) {
	filter := bson.M{
		"habit_id":        habitID,
		"user_id":         userID,
		"period_duration": duration,
		"end_of_period":   bson.M{"$gte": lower, "$lte": upper},
	}
	return m.findOneEntry(ctx, filter)
}

// FindNeighborEntry finds an entry by any habit other than excludeHabit for
// (user, duration) inside [lower, upper]. Returns (nil, nil) when none
// matches.
func (m *MongoStorage) FindNeighborEntry(ctx context.Context, userID primitive.ObjectID, duration int, lower, upper int64, excludeHabit primitive.ObjectID) (*models.Entry, error) {
	filter := bson.M{
		"habit_id":        bson.M{"$ne": excludeHabit},
		"user_id":         userID,
		"period_duration": duration,
		"end_of_period":   bson.M{"$gte": lower, "$lte": upper},
	}
	return m.findOneEntry(ctx, filter)
}

// FindUserEntries finds a user's entries across the given habits. A
// non-positive duration matches entries of any duration.
func (m *MongoStorage) FindUserEntries(ctx context.Context, habitIDs []primitive.ObjectID, userID primitive.ObjectID, duration int) ([]models.Entry, error) {
	filter := bson.M{
		"habit_id": bson.M{"$in": habitIDs},
		"user_id":  userID,
	}
	if duration > 0 {
		filter["period_duration"] = duration
	}

	collection := m.client.Database(m.dbName).Collection("entries")
	cursor, err := collection.Find(ctx, filter, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []models.Entry
	for cursor.Next(ctx) {
		var entry models.Entry
		if err := cursor.Decode(&entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// UpdateEntryValues updates an entry's recorded values in place.
// Returns the result of the update operation as an UpdateResult instance and
// an error if the update operation fails.
func (m *MongoStorage) UpdateEntryValues(ctx context.Context, id primitive.ObjectID, x, y int, updatedAt time.Time) (*UpdateResult, error) {
	collection := m.client.Database(m.dbName).Collection("entries")
	update := bson.M{"$set": bson.M{"x_value": x, "y_value": y, "updated_at": updatedAt}}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// CountEntries returns the number of entries a user has logged across the
// given habits.
func (m *MongoStorage) CountEntries(ctx context.Context, habitIDs []primitive.ObjectID, userID primitive.ObjectID) (int64, error) {
	collection := m.client.Database(m.dbName).Collection("entries")
	count, err := collection.CountDocuments(ctx, bson.M{
		"habit_id": bson.M{"$in": habitIDs},
		"user_id":  userID,
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AddBreak adds a new break document to the 'breaks' collection.
// Returns the added break instance and an error if the insert operation fails.
func (m *MongoStorage) AddBreak(ctx context.Context, brk *models.Break) (*models.Break, error) {
	collection := m.client.Database(m.dbName).Collection("breaks")
	result, err := collection.InsertOne(ctx, brk)
	if err != nil {
		return nil, err
	}

	brk.ID = result.InsertedID.(primitive.ObjectID)
	return brk, nil
}

// FindBreak finds a break matching (user, instance, start, end) exactly.
// Returns (nil, nil) when none matches.
func (m *MongoStorage) FindBreak(ctx context.Context, userID, instanceID primitive.ObjectID, start, end int64) (*models.Break, error) {
	collection := m.client.Database(m.dbName).Collection("breaks")
	result := collection.FindOne(ctx, bson.M{
		"user_id":     userID,
		"instance_id": instanceID,
		"start":       start,
		"end":         end,
	})
	brk := &models.Break{}
	err := result.Decode(brk)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return brk, nil
}

// FindBreaks finds a user's breaks inside an instance, newest end first.
func (m *MongoStorage) FindBreaks(ctx context.Context, instanceID, userID primitive.ObjectID) ([]models.Break, error) {
	collection := m.client.Database(m.dbName).Collection("breaks")
	cursor, err := collection.Find(ctx, bson.M{
		"instance_id": instanceID,
		"user_id":     userID,
	}, options.Find().SetSort(bson.M{"end": -1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var breaks []models.Break
	for cursor.Next(ctx) {
		var brk models.Break
		if err := cursor.Decode(&brk); err != nil {
			return nil, err
		}
		breaks = append(breaks, brk)
	}
	return breaks, nil
}

// DeleteBreak deletes a break document, but only when createdBy matches the
// record's creator. The ownership check is part of the delete filter, so a
// mismatch simply reports zero deletions.
func (m *MongoStorage) DeleteBreak(ctx context.Context, id, createdBy primitive.ObjectID) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("breaks")
	result, err := collection.DeleteOne(ctx, bson.M{"_id": id, "created_by": createdBy})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// FindPreference finds the preference document for an instance.
// Returns (nil, nil) when the instance has no stored preference.
func (m *MongoStorage) FindPreference(ctx context.Context, instanceID primitive.ObjectID) (*models.Preference, error) {
	collection := m.client.Database(m.dbName).Collection("preferences")
	result := collection.FindOne(ctx, bson.M{"instance_id": instanceID})
	pref := &models.Preference{}
	err := result.Decode(pref)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pref, nil
}

// SavePreference inserts or replaces the preference document for an instance.
func (m *MongoStorage) SavePreference(ctx context.Context, pref *models.Preference) (*models.Preference, error) {
	collection := m.client.Database(m.dbName).Collection("preferences")
	opts := options.Replace().SetUpsert(true)
	result, err := collection.ReplaceOne(ctx, bson.M{"instance_id": pref.InstanceID}, pref, opts)
	if err != nil {
		return nil, err
	}
	if result.UpsertedID != nil {
		pref.ID = result.UpsertedID.(primitive.ObjectID)
	}
	return pref, nil
}

// findOneEntry runs a FindOne on the entries collection, mapping the
// no-documents case to (nil, nil).
func (m *MongoStorage) findOneEntry(ctx context.Context, filter bson.M) (*models.Entry, error) {
	collection := m.client.Database(m.dbName).Collection("entries")
	result := collection.FindOne(ctx, filter, options.FindOne().SetSort(bson.M{"_id": 1}))
	entry := &models.Entry{}
	err := result.Decode(entry)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// decodeHabits drains a cursor over the habits collection.
func decodeHabits(ctx context.Context, cursor *mongo.Cursor) ([]models.Habit, error) {
	var habits []models.Habit
	for cursor.Next(ctx) {
		var habit models.Habit
		if err := cursor.Decode(&habit); err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}
	return habits, nil
}
