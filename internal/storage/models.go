package storage

import "time"

// User is an account row in the identity store
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Name          string    `json:"name"`
	Role          string    `json:"role"` // "customer" or "admin"
	WalletAddress string    `json:"walletAddress"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AuthSession is a bearer token row with an expiry
type AuthSession struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// MiningStats is the long-lived per-user mining profile, persisted as a
// single JSON document on the user row
type MiningStats struct {
	TotalRewards    int64   `json:"totalRewards"`
	CurrentHashRate float64 `json:"currentHashRate"`
	IsActiveMiner   bool    `json:"isActiveMiner"`
	SessionsCount   int64   `json:"sessionsCount"`
	TotalMiningTime float64 `json:"totalMiningTime"` // seconds
}
