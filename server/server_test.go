package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/auth"
	"github.com/openhabits/flexical/calendar"
	"github.com/openhabits/flexical/models"
	"github.com/openhabits/flexical/storage"
)

func TestMain(m *testing.M) {
	auth.InitAuth("test-signing-key")
	m.Run()
}

func newTestServer(t *testing.T) (*httptest.Server, *storage.MemoryStorage) {
	t.Helper()
	mem := storage.NewMemoryStorage()
	ts := httptest.NewServer(NewServer(mem, nil, nil).Router())
	t.Cleanup(ts.Close)
	return ts, mem
}

// sessionFor mints a token for a user and returns it with its anti-forgery
// token, the way the platform hands both to a signed-in browser.
func sessionFor(t *testing.T, userID primitive.ObjectID, roles ...string) (string, string) {
	t.Helper()
	token, err := auth.CreateAuthToken(userID, roles, time.Hour)
	require.NoError(t, err)
	session, err := auth.VerifyToken(token)
	require.NoError(t, err)
	return token, session.CSRF
}

func doJSON(t *testing.T, method, url, token, csrf string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func seedHabit(t *testing.T, mem *storage.MemoryStorage, instanceID primitive.ObjectID) *models.Habit {
	t.Helper()
	habit, err := mem.AddHabit(context.Background(), &models.Habit{
		InstanceID: instanceID,
		Level:      models.LevelActivity,
		Published:  true,
		Name:       "Morning run",
	})
	require.NoError(t, err)
	return habit
}

func TestUpsertEntryRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/entries", "", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpsertEntryRequiresCSRF(t *testing.T) {
	ts, mem := newTestServer(t)

	userID := primitive.NewObjectID()
	habit := seedHabit(t, mem, primitive.NewObjectID())
	token, _ := sessionFor(t, userID)

	resp := doJSON(t, http.MethodPost, ts.URL+"/entries", token, "", map[string]interface{}{
		"habit_id":        habit.ID.Hex(),
		"timestamp":       time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix(),
		"period_duration": 7,
		"x":               2,
		"y":               2,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpsertEntry(t *testing.T) {
	ts, mem := newTestServer(t)

	userID := primitive.NewObjectID()
	habit := seedHabit(t, mem, primitive.NewObjectID())
	token, csrf := sessionFor(t, userID)
	anchor := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix()

	resp := doJSON(t, http.MethodPost, ts.URL+"/entries", token, csrf, map[string]interface{}{
		"habit_id":        habit.ID.Hex(),
		"timestamp":       anchor,
		"period_duration": 7,
		"x":               2,
		"y":               3,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	count, err := mem.CountEntries(context.Background(), []primitive.ObjectID{habit.ID}, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpsertEntryValidation(t *testing.T) {
	ts, mem := newTestServer(t)

	userID := primitive.NewObjectID()
	habit := seedHabit(t, mem, primitive.NewObjectID())
	token, csrf := sessionFor(t, userID)
	anchor := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix()

	// Unsupported period length.
	resp := doJSON(t, http.MethodPost, ts.URL+"/entries", token, csrf, map[string]interface{}{
		"habit_id": habit.ID.Hex(), "timestamp": anchor, "period_duration": 4, "x": 2, "y": 2,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Value outside the 1..3 grid.
	resp = doJSON(t, http.MethodPost, ts.URL+"/entries", token, csrf, map[string]interface{}{
		"habit_id": habit.ID.Hex(), "timestamp": anchor, "period_duration": 7, "x": 4, "y": 2,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown habit.
	resp = doJSON(t, http.MethodPost, ts.URL+"/entries", token, csrf, map[string]interface{}{
		"habit_id": primitive.NewObjectID().Hex(), "timestamp": anchor, "period_duration": 7, "x": 2, "y": 2,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCalendarWindow(t *testing.T) {
	ts, _ := newTestServer(t)

	token, _ := sessionFor(t, primitive.NewObjectID())
	base := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix()

	url := fmt.Sprintf("%s/calendar?duration=7&count=8&to_date=%d", ts.URL, base)
	resp := doJSON(t, http.MethodGet, url, token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page calendarResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))

	assert.Equal(t, base, page.BaseDate)
	require.Len(t, page.Units, 8)
	assert.Equal(t, base, page.Units[7].Anchor)
	assert.Equal(t, base-56*calendar.DaySeconds, page.Back)

	// The window is far in the past, so paging forward is offered and every
	// period is old enough to review.
	require.NotNil(t, page.Forward)
	require.NotNil(t, page.LatestForQuestions)
	assert.Equal(t, base, *page.LatestForQuestions)
}

func TestCalendarRejectsBadDuration(t *testing.T) {
	ts, _ := newTestServer(t)
	token, _ := sessionFor(t, primitive.NewObjectID())

	resp := doJSON(t, http.MethodGet, ts.URL+"/calendar?duration=2", token, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompletionStatus(t *testing.T) {
	ts, mem := newTestServer(t)

	userID := primitive.NewObjectID()
	instanceID := primitive.NewObjectID()
	token, csrf := sessionFor(t, userID)
	habit := seedHabit(t, mem, instanceID)

	_, err := mem.SavePreference(context.Background(), &models.Preference{
		InstanceID: instanceID,
		MinEntries: 1,
		Combinator: "and",
	})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, ts.URL+"/completion?instance_id="+instanceID.Hex(), token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status completionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.Complete)
	assert.Zero(t, status.TotalEntries)

	resp = doJSON(t, http.MethodPost, ts.URL+"/entries", token, csrf, map[string]interface{}{
		"habit_id":        habit.ID.Hex(),
		"timestamp":       time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC).Unix(),
		"period_duration": 7,
		"x":               2,
		"y":               2,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/completion?instance_id="+instanceID.Hex(), token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Complete)
	assert.Equal(t, int64(1), status.TotalEntries)
}

func TestBreaksFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	creatorID := primitive.NewObjectID()
	instanceID := primitive.NewObjectID()
	token, csrf := sessionFor(t, creatorID)

	start := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2024, time.January, 12, 0, 0, 0, 0, time.UTC).Unix()

	resp := doJSON(t, http.MethodPost, ts.URL+"/breaks", token, csrf, map[string]interface{}{
		"instance_id": instanceID.Hex(), "start": start, "end": end,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Break
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, start, created.Start)

	resp = doJSON(t, http.MethodGet, ts.URL+"/breaks?instance_id="+instanceID.Hex(), token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Break
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)

	// Someone else cannot delete the creator's break.
	otherToken, otherCSRF := sessionFor(t, primitive.NewObjectID())
	resp = doJSON(t, http.MethodDelete, ts.URL+"/breaks/"+created.ID.Hex(), otherToken, otherCSRF, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/breaks/"+created.ID.Hex(), token, csrf, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHabitsFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	instanceID := primitive.NewObjectID()
	memberToken, memberCSRF := sessionFor(t, primitive.NewObjectID())
	managerToken, managerCSRF := sessionFor(t, primitive.NewObjectID(), auth.RoleManager)

	// Only managers create activity-level habits.
	body := map[string]interface{}{
		"instance_id": instanceID.Hex(), "level": "activity", "name": "Attend class",
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/habits", memberToken, memberCSRF, body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/habits", managerToken, managerCSRF, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var habit models.Habit
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&habit))
	assert.False(t, habit.Published)

	resp = doJSON(t, http.MethodPost, ts.URL+"/habits/"+habit.ID.Hex()+"/publish", managerToken, managerCSRF,
		map[string]interface{}{"published": true})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, ts.URL+"/habits/"+habit.ID.Hex(), managerToken, managerCSRF,
		map[string]interface{}{"name": "Attend every class", "description": "No skipping"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/habits?instance_id="+instanceID.Hex(), memberToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var visible []models.Habit
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&visible))
	require.Len(t, visible, 1)
	assert.Equal(t, "Attend every class", visible[0].Name)
	assert.True(t, visible[0].Published)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/habits/"+habit.ID.Hex(), memberToken, memberCSRF, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/habits/"+habit.ID.Hex(), managerToken, managerCSRF, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
