package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/auth"
	"github.com/openhabits/flexical/breaks"
	"github.com/openhabits/flexical/cache"
	"github.com/openhabits/flexical/calendar"
	"github.com/openhabits/flexical/completion"
	"github.com/openhabits/flexical/entries"
	"github.com/openhabits/flexical/habits"
	"github.com/openhabits/flexical/models"
	"github.com/openhabits/flexical/queue"
)

type upsertEntryRequest struct {
	HabitID        string `json:"habit_id"`
	Timestamp      int64  `json:"timestamp"`
	PeriodDuration int    `json:"period_duration"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
}

type addBreakRequest struct {
	InstanceID string `json:"instance_id"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
}

type skipPeriodRequest struct {
	InstanceID     string `json:"instance_id"`
	Timestamp      int64  `json:"timestamp"`
	PeriodDuration int    `json:"period_duration"`
}

type addHabitRequest struct {
	InstanceID  string `json:"instance_id"`
	Level       string `json:"level"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
}

type updateHabitRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type publishHabitRequest struct {
	Published bool `json:"published"`
}

type calendarUnit struct {
	Anchor int64  `json:"anchor"`
	Start  int64  `json:"start"`
	Label  string `json:"label"`
}

type calendarResponse struct {
	BaseDate           int64          `json:"base_date"`
	Duration           int            `json:"duration"`
	Count              int            `json:"count"`
	Units              []calendarUnit `json:"units"`
	Back               int64          `json:"back"`
	Forward            *int64         `json:"forward,omitempty"`
	LatestForQuestions *int64         `json:"latest_for_questions,omitempty"`
}

// handleUpsertEntry is the entry-logging boundary: it authenticates, checks
// the anti-forgery token, reconciles the submission through the entry store,
// and queues a completion re-evaluation. The reply is a bare status with no
// payload.
func (s *Server) handleUpsertEntry(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	var req upsertEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	habitID, err := primitive.ObjectIDFromHex(req.HabitID)
	if err != nil {
		http.Error(w, "invalid habit id", http.StatusBadRequest)
		return
	}

	days, err := calendar.NewDuration(req.PeriodDuration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	habit, err := s.store.FindHabit(r.Context(), habitID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if habit == nil {
		http.Error(w, "habit not found", http.StatusNotFound)
		return
	}

	caps := auth.ForSession(session)
	if !caps.CanManageEntries(session.UserID, habit.InstanceID) {
		http.Error(w, "permission denied", http.StatusForbidden)
		return
	}

	if _, err := s.entries.Upsert(r.Context(), habit, session.UserID, req.Timestamp, days, req.X, req.Y); err != nil {
		mapError(w, err)
		return
	}

	if s.queue != nil {
		msg := queue.NewCompletionMessage(habit.InstanceID, session.UserID)
		if err := queue.PublishCompletion(msg, s.queue); err != nil {
			// The entry is saved; a missed re-evaluation catches up on the
			// next submission.
			log.Printf("failed to publish completion event: %v", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCalendar returns one window of periods plus its pagination dates.
// An aligned to_date (midnight UTC, as every pagination date is) is used
// verbatim so paging back and forward round-trips exactly; anything else is
// right-aligned through EndOfPeriod first.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r); !ok {
		return
	}

	q := r.URL.Query()
	now := time.Now().Unix()

	duration := completion.DefaultFrequency
	if v := q.Get("duration"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}
		duration = parsed
	}
	days, err := calendar.NewDuration(duration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	toDate := now
	if v := q.Get("to_date"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid to_date", http.StatusBadRequest)
			return
		}
		toDate = parsed
	}
	base := toDate
	if base%calendar.DaySeconds != 0 {
		base = calendar.EndOfPeriod(days, toDate)
	}

	count := 0
	if v := q.Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid count", http.StatusBadRequest)
			return
		}
	}

	area := calendar.AreaView
	if q.Get("area") == string(calendar.AreaReview) {
		area = calendar.AreaReview
	}

	cal, err := calendar.New(days.Days(), base, count, area)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := calendarResponse{
		BaseDate: cal.BaseDate,
		Duration: days.Days(),
		Count:    cal.Count,
		Back:     cal.PageBack(),
	}
	for _, u := range cal.Generate() {
		resp.Units = append(resp.Units, calendarUnit{Anchor: u.Anchor, Start: u.PeriodStart(), Label: u.Label()})
	}
	if fwd, ok := cal.PageForward(now); ok {
		resp.Forward = &fwd
	}
	if unit, ok := cal.LatestForQuestions(now); ok {
		anchor := unit.Anchor
		resp.LatestForQuestions = &anchor
	}

	writeJSON(w, http.StatusOK, resp)
}

type completionResponse struct {
	Complete        bool  `json:"complete"`
	PeriodsComplete int   `json:"periods_complete"`
	TotalEntries    int64 `json:"total_entries"`
}

// handleCompletion reports the caller's completion state for an instance.
// The overall flag prefers the value the queue consumer cached after the last
// entry write; a cache miss falls back to evaluating the thresholds inline.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	instanceID, err := primitive.ObjectIDFromHex(r.URL.Query().Get("instance_id"))
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	pref, err := s.store.FindPreference(r.Context(), instanceID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	comb := completion.CombinatorAll
	if pref != nil && pref.Combinator == string(completion.CombinatorAny) {
		comb = completion.CombinatorAny
	}

	complete := false
	cached := false
	if s.cache != nil {
		key := cache.CompletionFlagKey(instanceID.Hex(), session.UserID.Hex())
		if v, err := s.cache.Get(r.Context(), key); err == nil {
			if flag, ok := v.(bool); ok {
				complete, cached = flag, true
			}
		}
	}
	if !cached {
		complete, err = s.aggregator.EvaluateCompletion(r.Context(), completion.ThresholdsFromPreference(pref), instanceID, session.UserID, comb)
		if err != nil {
			mapError(w, err)
			return
		}
	}

	periods, err := s.aggregator.PeriodsFullyCompleteCount(r.Context(), instanceID, session.UserID)
	if err != nil {
		mapError(w, err)
		return
	}
	total, err := s.aggregator.TotalEntries(r.Context(), instanceID, session.UserID)
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		Complete:        complete,
		PeriodsComplete: periods,
		TotalEntries:    total,
	})
}

func (s *Server) handleListBreaks(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	instanceID, err := primitive.ObjectIDFromHex(r.URL.Query().Get("instance_id"))
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	userBreaks, err := s.breaks.ListForUser(r.Context(), instanceID, session.UserID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, userBreaks)
}

func (s *Server) handleAddBreak(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	var req addBreakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	instanceID, err := primitive.ObjectIDFromHex(req.InstanceID)
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	brk, err := s.breaks.Add(r.Context(), session.UserID, instanceID, session.UserID, req.Start, req.End)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, brk)
}

func (s *Server) handleSkipPeriod(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	var req skipPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	instanceID, err := primitive.ObjectIDFromHex(req.InstanceID)
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}
	days, err := calendar.NewDuration(req.PeriodDuration)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	brk, err := s.breaks.SkipPeriod(r.Context(), session.UserID, instanceID, req.Timestamp, days)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, brk)
}

func (s *Server) handleDeleteBreak(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	breakID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid break id", http.StatusBadRequest)
		return
	}

	if err := s.breaks.Delete(r.Context(), breakID, session.UserID); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	instanceID, err := primitive.ObjectIDFromHex(r.URL.Query().Get("instance_id"))
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	publishedOnly := r.URL.Query().Get("published") == "1"
	visible, err := s.habits.ListForUser(r.Context(), instanceID, session.UserID, publishedOnly)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, visible)
}

func (s *Server) handleAddHabit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	var req addHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	instanceID, err := primitive.ObjectIDFromHex(req.InstanceID)
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	habit := &models.Habit{
		InstanceID:  instanceID,
		Level:       models.HabitLevel(req.Level),
		Name:        req.Name,
		Description: req.Description,
		Published:   req.Published,
	}
	added, err := s.habits.Add(r.Context(), auth.ForSession(session), session.UserID, habit)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleUpdateHabit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	habitID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid habit id", http.StatusBadRequest)
		return
	}

	var req updateHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.habits.Update(r.Context(), auth.ForSession(session), session.UserID, habitID, req.Name, req.Description); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublishHabit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	habitID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid habit id", http.StatusBadRequest)
		return
	}

	var req publishHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.habits.Publish(r.Context(), auth.ForSession(session), session.UserID, habitID, req.Published); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !requireCSRF(w, r, session) {
		return
	}

	habitID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid habit id", http.StatusBadRequest)
		return
	}

	if err := s.habits.Delete(r.Context(), auth.ForSession(session), session.UserID, habitID); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireSession pulls the verified session off the request context,
// answering 401 when the request carried no valid token.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session, ok := r.Context().Value(sessionKey).(*auth.Session)
	if !ok || session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return nil, false
	}
	return session, true
}

// requireCSRF checks the anti-forgery header on state-changing requests
// against the token bound to the session.
func requireCSRF(w http.ResponseWriter, r *http.Request, session *auth.Session) bool {
	if session.CSRF == "" || r.Header.Get("X-CSRF-Token") != session.CSRF {
		http.Error(w, "invalid csrf token", http.StatusForbidden)
		return false
	}
	return true
}

// mapError translates domain errors into HTTP statuses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calendar.ErrInvalidDuration),
		errors.Is(err, entries.ErrInvalidValue),
		errors.Is(err, breaks.ErrInvalidRange),
		errors.Is(err, habits.ErrInvalidHabit):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Printf("request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
