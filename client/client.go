package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/form3tech-oss/jwt-go"
	"github.com/zalando/go-keyring"
)

// jwtSigningKey is used to verify JWT tokens before storing them.
var jwtSigningKey string

// KeyringKey is used to store and retrieve the JWT token from the system keyring.
var KeyringKey string

// ServerURL is the URL of the server the client is connecting to.
var ServerURL string

// httpClient is the HTTP client used to make requests to the server.
var httpClient = &http.Client{}

// KeyringService is the name of the service in the system keyring where the JWT token is stored.
const KeyringService = "Flexical"

// CalendarUnit is one period in a calendar window as returned by the server.
type CalendarUnit struct {
	Anchor int64  `json:"anchor"`
	Start  int64  `json:"start"`
	Label  string `json:"label"`
}

// CalendarPage is one window of periods plus its pagination dates.
type CalendarPage struct {
	BaseDate           int64          `json:"base_date"`
	Duration           int            `json:"duration"`
	Count              int            `json:"count"`
	Units              []CalendarUnit `json:"units"`
	Back               int64          `json:"back"`
	Forward            *int64         `json:"forward,omitempty"`
	LatestForQuestions *int64         `json:"latest_for_questions,omitempty"`
}

// BreakView is a stored break as returned by the server.
type BreakView struct {
	ID    string `json:"id"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// HabitView is a habit as returned by the server.
type HabitView struct {
	ID          string `json:"id"`
	Level       string `json:"level"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
	SortOrder   int    `json:"sort_order"`
}

// InitClient initializes the package globals.
// This function must be called before using any other functions in the package.
func InitClient(serverURL, signingKey, keyringKey string) {
	ServerURL = serverURL
	jwtSigningKey = signingKey
	KeyringKey = keyringKey
}

// decodeJWT decodes a JWT token and returns the claims contained within it.
// It returns an error if the token is invalid.
func decodeJWT(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// isTokenInKeyring checks if the system keyring contains a JWT token.
// Returns 'true' and the token if it exists, 'false' and an empty string if it doesn't.
func isTokenInKeyring() (bool, string, error) {
	token, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return false, "", nil
		}
		return false, "", errors.New("failed to access keyring: " + err.Error())
	}
	return true, token, nil
}

// SetToken verifies a session token issued by the platform and stores it in
// the system keyring. Subsequent requests authenticate with it.
func SetToken(tokenStr string) error {
	if _, err := decodeJWT(tokenStr); err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	if err := keyring.Set(KeyringService, KeyringKey, tokenStr); err != nil {
		return errors.New("failed to store token in keyring: " + err.Error())
	}
	return nil
}

// ClearKeyring removes the stored session token.
func ClearKeyring() error {
	if err := keyring.Delete(KeyringService, KeyringKey); err != nil && err != keyring.ErrNotFound {
		return errors.New("failed to delete token from keyring: " + err.Error())
	}
	return nil
}

// CurrentSession returns the stored token and the anti-forgery token bound to
// it. An empty token string means no session is stored. Expired tokens are
// cleared; the platform issues a fresh one on the next visit.
func CurrentSession() (string, string, error) {
	hasToken, tokenStr, err := isTokenInKeyring()
	if err != nil {
		return "", "", err
	}
	if !hasToken {
		return "", "", nil
	}

	claims, err := decodeJWT(tokenStr)
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			ClearKeyring()
			return "", "", errors.New("session expired, set a fresh token with 'settoken'")
		}
		return "", "", err
	}

	csrf, _ := claims["csrf"].(string)
	return tokenStr, csrf, nil
}

// sendRequest sends a JSON request to the server and decodes the reply into
// out (when out is non-nil and the reply has a body). A non-2xx status is
// returned as an error carrying the server's message.
func sendRequest(method, path string, body interface{}, out interface{}) error {
	token, csrf, err := CurrentSession()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no session token is set, use 'settoken' first")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, ServerURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(bytes.TrimSpace(bodyBytes))
		if msg == "" {
			msg = resp.Status
		}
		return errors.New(msg)
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %v", err)
		}
	}
	return nil
}

// LogEntry records a habit entry for the period containing timestamp.
func LogEntry(habitID string, timestamp int64, periodDuration, x, y int) error {
	return sendRequest(http.MethodPost, "/entries", map[string]interface{}{
		"habit_id":        habitID,
		"timestamp":       timestamp,
		"period_duration": periodDuration,
		"x":               x,
		"y":               y,
	}, nil)
}

// Calendar fetches one window of periods ending at toDate. A zero toDate
// lets the server default to the current period.
func Calendar(toDate int64, periodDuration, count int) (*CalendarPage, error) {
	path := fmt.Sprintf("/calendar?duration=%d", periodDuration)
	if toDate != 0 {
		path += fmt.Sprintf("&to_date=%d", toDate)
	}
	if count != 0 {
		path += fmt.Sprintf("&count=%d", count)
	}

	var page CalendarPage
	if err := sendRequest(http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CompletionStatus is the caller's completion state for an instance.
type CompletionStatus struct {
	Complete        bool  `json:"complete"`
	PeriodsComplete int   `json:"periods_complete"`
	TotalEntries    int64 `json:"total_entries"`
}

// Completion fetches the caller's completion state for an instance.
func Completion(instanceID string) (*CompletionStatus, error) {
	var status CompletionStatus
	if err := sendRequest(http.MethodGet, "/completion?instance_id="+instanceID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListBreaks fetches the caller's breaks for an instance, most recent first.
func ListBreaks(instanceID string) ([]BreakView, error) {
	var breaks []BreakView
	if err := sendRequest(http.MethodGet, "/breaks?instance_id="+instanceID, nil, &breaks); err != nil {
		return nil, err
	}
	return breaks, nil
}

// AddBreak records a break over [start, end].
func AddBreak(instanceID string, start, end int64) (*BreakView, error) {
	var brk BreakView
	err := sendRequest(http.MethodPost, "/breaks", map[string]interface{}{
		"instance_id": instanceID,
		"start":       start,
		"end":         end,
	}, &brk)
	if err != nil {
		return nil, err
	}
	return &brk, nil
}

// SkipPeriod records a break covering the whole period containing timestamp.
func SkipPeriod(instanceID string, timestamp int64, periodDuration int) (*BreakView, error) {
	var brk BreakView
	err := sendRequest(http.MethodPost, "/breaks/skip", map[string]interface{}{
		"instance_id":     instanceID,
		"timestamp":       timestamp,
		"period_duration": periodDuration,
	}, &brk)
	if err != nil {
		return nil, err
	}
	return &brk, nil
}

// DeleteBreak removes a break the caller created.
func DeleteBreak(breakID string) error {
	return sendRequest(http.MethodDelete, "/breaks/"+breakID, nil, nil)
}

// ListHabits fetches the habits visible to the caller in an instance.
func ListHabits(instanceID string) ([]HabitView, error) {
	var habits []HabitView
	if err := sendRequest(http.MethodGet, "/habits?instance_id="+instanceID, nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}
