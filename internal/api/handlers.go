package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camarigor/tribeminer/internal/auth"
	"github.com/camarigor/tribeminer/internal/pool"
)

// startResult and stopResult are the success envelopes for mining calls;
// domain failures use the shared failure shape from jsonFailure.
type startResult struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	HashRate float64 `json:"hashRate"`
}

type stopResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Rewards int64  `json:"rewards"`
}

// handleRegister creates a new account
// POST /api/auth/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user, err := s.auth.Register(req.Email, req.Password, req.Name, "")
	if errors.Is(err, auth.ErrEmailTaken) {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, user)
}

// handleLogin verifies credentials and mints a session token
// POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	token, user, err := s.auth.Login(req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(s.cfg.Auth.SessionTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.jsonResponse(w, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// handleLogout deletes the caller's session token
// POST /api/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := tokenFromRequest(r); token != "" {
		if err := s.auth.Logout(token); err != nil {
			log.Printf("Logout failed: %v", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:    sessionCookie,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
	})

	s.jsonResponse(w, map[string]bool{"success": true})
}

// handleMe returns the authenticated user's profile
// GET /api/auth/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.storage.GetUserByID(identityFrom(r).UserID)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, user)
}

// handleGetPoolStats returns the pool-wide summary
// GET /api/pool/stats
func (s *Server) handleGetPoolStats(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.pool.PoolStats())
}

// handleStartMining opens a mining session for the caller
// POST /api/mining/start
func (s *Server) handleStartMining(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WalletAddress == "" {
		http.Error(w, "wallet address is required", http.StatusBadRequest)
		return
	}

	hashRate, err := s.pool.StartMining(identity.UserID, req.WalletAddress)
	if errors.Is(err, pool.ErrAlreadyActive) {
		s.jsonFailure(w, http.StatusBadRequest, "Already mining")
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Remember the payout address on the account; the session keeps its
	// own copy, so a failed write only costs the saved default.
	if err := s.storage.SetWalletAddress(identity.UserID, req.WalletAddress); err != nil {
		log.Printf("Failed to save wallet address for user %s: %v", identity.UserID, err)
	}

	s.hub.SendToUser(identity.UserID, Message{
		Type: "mining_started",
		Data: map[string]interface{}{"hashRate": hashRate, "userId": identity.UserID},
	})

	s.jsonResponse(w, startResult{Success: true, Message: "Mining started", HashRate: hashRate})
}

// handleStopMining closes the caller's mining session and pays out
// POST /api/mining/stop
func (s *Server) handleStopMining(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	rewards, err := s.pool.StopMining(identity.UserID)
	if errors.Is(err, pool.ErrNotActive) {
		s.jsonFailure(w, http.StatusBadRequest, "Not currently mining")
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.hub.SendToUser(identity.UserID, Message{
		Type: "mining_stopped",
		Data: map[string]interface{}{"rewards": rewards, "userId": identity.UserID},
	})

	s.jsonResponse(w, stopResult{Success: true, Message: "Mining stopped", Rewards: rewards})
}

// handleGetMiningStats returns the caller's persisted mining stats
// GET /api/mining/stats
func (s *Server) handleGetMiningStats(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.pool.UserStats(identityFrom(r).UserID))
}

// handleGetRewards returns a user's cumulative rewards. Callers can only
// read their own unless they hold the admin role.
// GET /api/rewards/{userId}
func (s *Server) handleGetRewards(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	userID := chi.URLParam(r, "userId")

	if identity.UserID != userID && identity.Role != auth.RoleAdmin {
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	stats := s.pool.UserStats(userID)
	s.jsonResponse(w, map[string]int64{"rewards": stats.TotalRewards})
}

// handleGetActiveMiners returns every live mining session (admin only)
// GET /api/admin/miners
func (s *Server) handleGetActiveMiners(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]interface{}{
		"activeMiners": s.pool.ActiveMiners(),
	})
}

// handleHealth is a liveness probe
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"activeMiners": s.pool.PoolStats().ActiveMiners,
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) jsonFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	}); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
