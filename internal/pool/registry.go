package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyActive is returned when a user tries to start a second session
	ErrAlreadyActive = errors.New("pool: already mining")
	// ErrNotActive is returned when a user without a session tries to stop
	ErrNotActive = errors.New("pool: not currently mining")
)

// Session is one user's ongoing virtual mining attempt
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	WalletAddress string    `json:"walletAddress"`
	HashRate      float64   `json:"hashRate"`
	StartTime     time.Time `json:"startTime"`
	LastShareTime time.Time `json:"lastShareTime"`
	TotalShares   int64     `json:"totalShares"`
	IsActive      bool      `json:"isActive"`
}

// Registry owns the set of live mining sessions and enforces at most one
// active session per user. All accessors hand out copies, never pointers
// into the map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // keyed by session id
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Start creates a new active session for the user. Fails with
// ErrAlreadyActive if the user already has one.
func (r *Registry) Start(userID, walletAddress string, hashRate float64, now time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			return Session{}, ErrAlreadyActive
		}
	}

	session := &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		WalletAddress: walletAddress,
		HashRate:      hashRate,
		StartTime:     now,
		LastShareTime: now,
		TotalShares:   0,
		IsActive:      true,
	}
	r.sessions[session.ID] = session

	return *session, nil
}

// Deactivate claims the user's active session for teardown. The session
// stays in the map, marked inactive, until Remove is called, so a second
// concurrent stop observes ErrNotActive instead of racing the first.
func (r *Registry) Deactivate(userID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			return *s, nil
		}
	}
	return Session{}, ErrNotActive
}

// Remove deletes a session from the registry
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// CreditShare bumps a session's share count and share timestamp. Returns
// false if the session is gone or no longer active.
func (r *Registry) CreditShare(sessionID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive {
		return false
	}
	s.TotalShares++
	s.LastShareTime = now
	return true
}

// Active returns a snapshot of all active sessions
func (r *Registry) Active() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.IsActive {
			active = append(active, *s)
		}
	}
	return active
}

// ByUser returns the user's active session, if any
func (r *Registry) ByUser(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			return *s, true
		}
	}
	return Session{}, false
}
