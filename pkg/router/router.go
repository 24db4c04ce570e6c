// Package router resolves session short codes to session ids and creates
// new sessions, including the short-code collision retry loop.
package router

import (
	"context"
	"crypto/rand"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/waitline/queueline/pkg/coordinator"
	"github.com/waitline/queueline/pkg/models"
)

// maxShortCodeAttempts bounds the collision-retry loop on session
// creation.
const maxShortCodeAttempts = 20

const (
	maxEventNameLen   = 120
	maxMaxGuests      = 100
	maxLocationLen    = 240
	maxContactInfoLen = 500
)

// hhmmPattern matches a 24-hour HH:MM clock time.
var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// sessionDirectory is the slice of store.DurableLog the Router needs.
// Scoping the dependency to an interface lets the short-code collision
// retry loop be tested without a live database.
type sessionDirectory interface {
	CreateSession(ctx context.Context, session models.Session) error
	AppendEvent(ctx context.Context, e models.Event) (int64, error)
	ShortCodeTaken(ctx context.Context, code string) (bool, error)
	SessionByShortCode(ctx context.Context, shortCode string) (*models.Session, error)
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	EventName   string
	MaxGuests   int
	Location    string
	ContactInfo string
	OpenTime    string
	CloseTime   string
}

// Router owns short-code generation and resolution.
type Router struct {
	log sessionDirectory
	hub *coordinator.Hub
}

// New constructs a Router.
func New(log sessionDirectory, hub *coordinator.Hub) *Router {
	return &Router{log: log, hub: hub}
}

// Create persists a new session under a freshly generated, collision-free
// short code and registers it with the Hub.
func (r *Router) Create(ctx context.Context, req CreateRequest) (models.Session, error) {
	if err := validateCreateRequest(req); err != nil {
		return models.Session{}, err
	}

	code, err := r.generateUniqueShortCode(ctx)
	if err != nil {
		return models.Session{}, err
	}

	now := time.Now()
	session := models.Session{
		ID:             uuid.NewString(),
		ShortCode:      code,
		EventName:      req.EventName,
		MaxGuests:      req.MaxGuests,
		Location:       req.Location,
		ContactInfo:    req.ContactInfo,
		OpenTime:       req.OpenTime,
		CloseTime:      req.CloseTime,
		Status:         models.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := r.log.CreateSession(ctx, session); err != nil {
		return models.Session{}, trace.Wrap(err, "create session")
	}
	if _, err := r.log.AppendEvent(ctx, models.Event{SessionID: session.ID, Type: models.EventSessionOpen, Timestamp: now}); err != nil {
		return models.Session{}, trace.Wrap(err, "append session_opened event")
	}

	r.hub.Register(session)
	return session, nil
}

// validateCreateRequest checks every field of a CreateRequest against the
// limits a session record must satisfy before it is ever persisted.
func validateCreateRequest(req CreateRequest) error {
	if req.EventName == "" {
		return trace.BadParameter("eventName is required")
	}
	if len(req.EventName) > maxEventNameLen {
		return trace.BadParameter("eventName must be at most %d characters", maxEventNameLen)
	}
	if req.MaxGuests <= 0 {
		return trace.BadParameter("maxGuests must be positive")
	}
	if req.MaxGuests > maxMaxGuests {
		return trace.BadParameter("maxGuests must be at most %d", maxMaxGuests)
	}
	if len(req.Location) > maxLocationLen {
		return trace.BadParameter("location must be at most %d characters", maxLocationLen)
	}
	if len(req.ContactInfo) > maxContactInfoLen {
		return trace.BadParameter("contactInfo must be at most %d characters", maxContactInfoLen)
	}
	if req.OpenTime != "" && !hhmmPattern.MatchString(req.OpenTime) {
		return trace.BadParameter("openTime must be HH:MM")
	}
	if req.CloseTime != "" && !hhmmPattern.MatchString(req.CloseTime) {
		return trace.BadParameter("closeTime must be HH:MM")
	}
	if req.OpenTime != "" && req.CloseTime != "" && req.CloseTime <= req.OpenTime {
		return trace.BadParameter("closeTime must be after openTime")
	}
	return nil
}

// generateUniqueShortCode draws random codes until one is not already
// assigned, bailing out after maxShortCodeAttempts.
func (r *Router) generateUniqueShortCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxShortCodeAttempts; attempt++ {
		code, err := randomShortCode()
		if err != nil {
			return "", trace.Wrap(err, "generate short code")
		}
		taken, err := r.log.ShortCodeTaken(ctx, code)
		if err != nil {
			return "", trace.Wrap(err, "check short code uniqueness")
		}
		if !taken {
			return code, nil
		}
	}
	return "", trace.LimitExceeded("could not find an unused short code after %d attempts", maxShortCodeAttempts)
}

func randomShortCode() (string, error) {
	alphabet := models.ShortCodeAlphabet
	out := make([]byte, models.ShortCodeLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// Resolve maps a short code to its live Coordinator, restoring it via the
// Hub on first access.
func (r *Router) Resolve(ctx context.Context, shortCode string) (*coordinator.Coordinator, error) {
	session, err := r.log.SessionByShortCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionClosed {
		return nil, trace.AlreadyExists("session is closed")
	}
	return r.hub.Get(ctx, session.ID)
}

// SessionByShortCode resolves the short code to its durable session
// record without going through the Hub — used by handlers that only need
// read-only metadata (e.g. the session id a host credential is verified
// against).
func (r *Router) SessionByShortCode(ctx context.Context, shortCode string) (models.Session, error) {
	session, err := r.log.SessionByShortCode(ctx, shortCode)
	if err != nil {
		return models.Session{}, err
	}
	return *session, nil
}
