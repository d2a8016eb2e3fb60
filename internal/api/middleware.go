package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/camarigor/tribeminer/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// sessionCookie carries the login token for browser clients; API clients
// use a bearer header instead.
const sessionCookie = "tribeminer_session"

// tokenFromRequest extracts the session token from the Authorization
// header or the session cookie
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// requireAuth rejects requests without a valid session token and stores
// the resolved identity on the request context
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.Validate(tokenFromRequest(r))
		if err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects authenticated callers without the admin role
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r).Role != auth.RoleAdmin {
			http.Error(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityFrom returns the identity placed on the context by requireAuth
func identityFrom(r *http.Request) auth.Identity {
	identity, _ := r.Context().Value(identityKey).(auth.Identity)
	return identity
}
