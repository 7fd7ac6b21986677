package auth

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/models"
)

// ErrPermissionDenied is returned whenever an actor lacks the capability an
// operation requires. Every gated operation surfaces this explicitly; nothing
// is silently absorbed.
var ErrPermissionDenied = errors.New("permission denied")

// RoleManager marks sessions allowed to manage an instance's shared habits
// and preferences.
const RoleManager = "manager"

// jwtSigningKey is a package-level variable that holds the key used for signing and verifying JWT tokens.
var jwtSigningKey string

// InitAuth sets the signing key used to mint and verify session tokens. It
// must be called once before any other function in the package.
func InitAuth(signingKey string) {
	jwtSigningKey = signingKey
}

// Session is the verified identity attached to a request: the user, the
// anti-forgery token bound to this session, and the roles granted by the
// platform.
type Session struct {
	UserID primitive.ObjectID
	CSRF   string
	Roles  []string
}

// HasRole reports whether the session carries the named role.
func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CreateAuthToken creates a signed JWT for a user. The token carries the
// user's ID, the granted roles, and a fresh anti-forgery token that state
// changing requests must echo in the X-CSRF-Token header.
func CreateAuthToken(userID primitive.ObjectID, roles []string, ttl time.Duration) (string, error) {
	csrf, err := newCSRFToken()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"id":    userID.Hex(),
		"csrf":  csrf,
		"roles": roles,
		"exp":   time.Now().Add(ttl).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))
	if err != nil {
		return "", errors.New("failed to create auth token")
	}

	return signedToken, nil
}

// VerifyToken parses and validates a session token, returning the session it
// encodes. Expired or tampered tokens fail.
func VerifyToken(tokenStr string) (*Session, error) {
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

	idHex, _ := claims["id"].(string)
	userID, err := primitive.ObjectIDFromHex(idHex)
	if err != nil {
		return nil, errors.New("invalid user id in token")
	}

	session := &Session{UserID: userID}
	session.CSRF, _ = claims["csrf"].(string)
	if rawRoles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range rawRoles {
			if role, ok := r.(string); ok {
				session.Roles = append(session.Roles, role)
			}
		}
	}

	return session, nil
}

// Capabilities is the opaque permission gate the core consults. The module
// never implements the platform's permission model; it only acts on the
// pass/fail answers.
type Capabilities interface {
	// CanManageEntries reports whether the user may log entries in the instance.
	CanManageEntries(userID, instanceID primitive.ObjectID) bool
	// CanManageHabits reports whether the user may create or reorder the
	// instance's activity-level habits.
	CanManageHabits(userID, instanceID primitive.ObjectID) bool
	// CanEditHabit reports whether the user may edit or delete the habit.
	CanEditHabit(userID primitive.ObjectID, habit *models.Habit) bool
}

// SessionCapabilities answers capability checks from a verified session's
// roles: managers administer activity-level habits, everyone manages their
// own entries and personal habits.
type SessionCapabilities struct {
	Session *Session
}

// ForSession builds the capability gate for one request's session.
func ForSession(session *Session) *SessionCapabilities {
	return &SessionCapabilities{Session: session}
}

func (c *SessionCapabilities) CanManageEntries(userID, instanceID primitive.ObjectID) bool {
	return c.Session.UserID == userID
}

func (c *SessionCapabilities) CanManageHabits(userID, instanceID primitive.ObjectID) bool {
	return c.Session.UserID == userID && c.Session.HasRole(RoleManager)
}

func (c *SessionCapabilities) CanEditHabit(userID primitive.ObjectID, habit *models.Habit) bool {
	if c.Session.UserID != userID {
		return false
	}
	if habit.Level == models.LevelActivity {
		return c.Session.HasRole(RoleManager)
	}
	return habit.OwnerID == userID
}

// newCSRFToken generates a random per-session anti-forgery token.
func newCSRFToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("failed to generate csrf token")
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
