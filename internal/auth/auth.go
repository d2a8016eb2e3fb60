package auth

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/camarigor/tribeminer/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrSessionExpired     = errors.New("auth: session expired")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity is what the rest of the system consumes from a validated token
type Identity struct {
	UserID string
	Role   string
}

// Service implements email/password authentication with bearer session
// tokens backed by the SQLite store
type Service struct {
	store      *storage.SQLiteStorage
	sessionTTL time.Duration
	now        func() time.Time
}

// NewService creates an auth service. sessionTTL bounds how long a login
// token stays valid.
func NewService(store *storage.SQLiteStorage, sessionTTL time.Duration) *Service {
	return &Service{
		store:      store,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Register creates a new user account. The first account keeps whatever
// role is passed; empty role defaults to customer.
func (s *Service) Register(email, password, name, role string) (*storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if _, err := s.store.GetUserByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	if role == "" {
		role = RoleCustomer
	}

	user := &storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the password and mints a session token
func (s *Service) Login(email, password string) (string, *storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(email)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	sess := &storage.AuthSession{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.sessionTTL).UTC(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAuthSession(sess); err != nil {
		return "", nil, err
	}

	return sess.Token, user, nil
}

// Validate resolves a bearer token to an identity. Expired tokens are
// deleted on sight.
func (s *Service) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	sess, err := s.store.GetAuthSession(token)
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, ErrInvalidToken
	}
	if err != nil {
		return Identity{}, err
	}

	if s.now().After(sess.ExpiresAt) {
		if err := s.store.DeleteAuthSession(token); err != nil {
			log.Printf("Failed to delete expired session: %v", err)
		}
		return Identity{}, ErrSessionExpired
	}

	user, err := s.store.GetUserByID(sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, ErrInvalidToken
	}
	if err != nil {
		return Identity{}, err
	}

	return Identity{UserID: user.ID, Role: user.Role}, nil
}

// Logout deletes a session token. Unknown tokens are not an error.
func (s *Service) Logout(token string) error {
	return s.store.DeleteAuthSession(token)
}
