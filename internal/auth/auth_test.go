package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camarigor/tribeminer/internal/storage"
)

func setupTestAuth(t *testing.T) (*Service, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tribeminer-auth-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return NewService(store, 7*24*time.Hour), cleanup
}

func TestAuthService(t *testing.T) {
	t.Run("RegisterAndLogin", func(t *testing.T) {
		svc, cleanup := setupTestAuth(t)
		defer cleanup()

		user, err := svc.Register("Miner@Example.com", "hunter22", "Demo Miner", "")
		if err != nil {
			t.Fatalf("failed to register: %v", err)
		}
		if user.Email != "miner@example.com" {
			t.Errorf("expected lowercased email, got %s", user.Email)
		}
		if user.Role != RoleCustomer {
			t.Errorf("expected default role customer, got %s", user.Role)
		}
		if user.PasswordHash == "hunter22" {
			t.Error("password stored in the clear")
		}

		token, loggedIn, err := svc.Login("miner@example.com", "hunter22")
		if err != nil {
			t.Fatalf("failed to login: %v", err)
		}
		if token == "" {
			t.Error("expected a session token")
		}
		if loggedIn.ID != user.ID {
			t.Errorf("login returned wrong user: %s", loggedIn.ID)
		}

		if _, _, err := svc.Login("miner@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials for bad password, got %v", err)
		}
		if _, _, err := svc.Login("ghost@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
		}
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		svc, cleanup := setupTestAuth(t)
		defer cleanup()

		if _, err := svc.Register("miner@example.com", "hunter22", "First", ""); err != nil {
			t.Fatalf("failed to register: %v", err)
		}
		if _, err := svc.Register("miner@example.com", "other", "Second", ""); !errors.Is(err, ErrEmailTaken) {
			t.Errorf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("EmptyCredentialsRejected", func(t *testing.T) {
		svc, cleanup := setupTestAuth(t)
		defer cleanup()

		if _, err := svc.Register("", "hunter22", "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials for empty email, got %v", err)
		}
		if _, err := svc.Register("miner@example.com", "", "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials for empty password, got %v", err)
		}
	})

	t.Run("ValidateAndLogout", func(t *testing.T) {
		svc, cleanup := setupTestAuth(t)
		defer cleanup()

		user, _ := svc.Register("admin@example.com", "hunter22", "Admin", RoleAdmin)
		token, _, err := svc.Login("admin@example.com", "hunter22")
		if err != nil {
			t.Fatalf("failed to login: %v", err)
		}

		identity, err := svc.Validate(token)
		if err != nil {
			t.Fatalf("failed to validate token: %v", err)
		}
		if identity.UserID != user.ID {
			t.Errorf("expected user %s, got %s", user.ID, identity.UserID)
		}
		if identity.Role != RoleAdmin {
			t.Errorf("expected admin role, got %s", identity.Role)
		}

		if err := svc.Logout(token); err != nil {
			t.Fatalf("failed to logout: %v", err)
		}
		if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken after logout, got %v", err)
		}

		if _, err := svc.Validate(""); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken for empty token, got %v", err)
		}
	})

	t.Run("ExpiredSession", func(t *testing.T) {
		svc, cleanup := setupTestAuth(t)
		defer cleanup()

		svc.Register("miner@example.com", "hunter22", "Demo", "")
		token, _, err := svc.Login("miner@example.com", "hunter22")
		if err != nil {
			t.Fatalf("failed to login: %v", err)
		}

		// Jump past the session TTL
		svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

		if _, err := svc.Validate(token); !errors.Is(err, ErrSessionExpired) {
			t.Errorf("expected ErrSessionExpired, got %v", err)
		}

		// The expired token was deleted on sight
		svc.now = time.Now
		if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken after expiry cleanup, got %v", err)
		}
	})
}
