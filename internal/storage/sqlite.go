package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("storage: not found")

// statsDocVersion is stamped into every serialized mining stats blob so the
// layout can evolve without guessing at old documents.
const statsDocVersion = 1

// statsDoc is the on-disk shape of the mining stats blob. Internal code
// only ever sees MiningStats; the version wrapper stays in this file.
type statsDoc struct {
	Version int `json:"version"`
	MiningStats
}

// SQLiteStorage provides SQLite-based storage for users, auth sessions and
// per-user mining stats
type SQLiteStorage struct {
	db *sql.DB
}

// parseTimestamp parses a timestamp string from SQLite in multiple formats.
// All timestamps are stored in UTC.
func parseTimestamp(s string) time.Time {
	// Try RFC3339 first (modernc/sqlite driver converts DATETIME columns to this format)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// Fallback to simple format (stored as UTC)
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// NewSQLiteStorage opens a SQLite database at the given path,
// runs migrations, and enables WAL mode
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit to single connection to avoid SQLite locking issues
	db.SetMaxOpenConns(1)

	// Set busy timeout to 5 seconds to handle concurrent writes
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables and indexes
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'customer',
		wallet_address TEXT NOT NULL DEFAULT '',
		mining_stats TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_auth_sessions_user_id ON auth_sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires_at ON auth_sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Migration: add wallet_address column to users if it doesn't exist
	_, _ = s.db.Exec("ALTER TABLE users ADD COLUMN wallet_address TEXT NOT NULL DEFAULT ''")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user row
func (s *SQLiteStorage) CreateUser(u *User) error {
	query := `
	INSERT INTO users (id, email, password_hash, name, role, wallet_address, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.WalletAddress, u.CreatedAt.UTC())
	return err
}

// GetUserByEmail returns the user with the given email, or ErrNotFound
func (s *SQLiteStorage) GetUserByEmail(email string) (*User, error) {
	query := `
	SELECT id, email, password_hash, name, role, wallet_address, created_at
	FROM users
	WHERE email = ?
	`

	return s.scanUser(s.db.QueryRow(query, email))
}

// GetUserByID returns the user with the given id, or ErrNotFound
func (s *SQLiteStorage) GetUserByID(id string) (*User, error) {
	query := `
	SELECT id, email, password_hash, name, role, wallet_address, created_at
	FROM users
	WHERE id = ?
	`

	return s.scanUser(s.db.QueryRow(query, id))
}

func (s *SQLiteStorage) scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.WalletAddress, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTimestamp(createdAt)
	return &u, nil
}

// SetWalletAddress updates the stored wallet address for a user
func (s *SQLiteStorage) SetWalletAddress(userID, wallet string) error {
	_, err := s.db.Exec("UPDATE users SET wallet_address = ? WHERE id = ?", wallet, userID)
	return err
}

// CreateAuthSession inserts a session token row
func (s *SQLiteStorage) CreateAuthSession(sess *AuthSession) error {
	query := `
	INSERT INTO auth_sessions (token, user_id, expires_at, created_at)
	VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, sess.Token, sess.UserID, sess.ExpiresAt.UTC(), sess.CreatedAt.UTC())
	return err
}

// GetAuthSession returns the session for a token, or ErrNotFound
func (s *SQLiteStorage) GetAuthSession(token string) (*AuthSession, error) {
	query := `
	SELECT token, user_id, expires_at, created_at
	FROM auth_sessions
	WHERE token = ?
	`

	var sess AuthSession
	var expiresAt, createdAt string
	err := s.db.QueryRow(query, token).Scan(&sess.Token, &sess.UserID, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = parseTimestamp(expiresAt)
	sess.CreatedAt = parseTimestamp(createdAt)
	return &sess, nil
}

// DeleteAuthSession removes a session token
func (s *SQLiteStorage) DeleteAuthSession(token string) error {
	_, err := s.db.Exec("DELETE FROM auth_sessions WHERE token = ?", token)
	return err
}

// PurgeExpiredAuthSessions deletes sessions past their expiry and returns
// how many were removed
func (s *SQLiteStorage) PurgeExpiredAuthSessions(now time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM auth_sessions WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetMiningStats reads a user's mining stats document. A missing or
// unparseable blob reads as the zero value; only a database error is
// reported to the caller.
func (s *SQLiteStorage) GetMiningStats(userID string) (MiningStats, error) {
	var blob string
	err := s.db.QueryRow("SELECT mining_stats FROM users WHERE id = ?", userID).Scan(&blob)
	if err == sql.ErrNoRows {
		return MiningStats{}, nil
	}
	if err != nil {
		return MiningStats{}, err
	}

	if blob == "" {
		return MiningStats{}, nil
	}

	var doc statsDoc
	if err := json.Unmarshal([]byte(blob), &doc); err != nil {
		log.Printf("Unreadable mining stats blob for user %s: %v", userID, err)
		return MiningStats{}, nil
	}
	return doc.MiningStats, nil
}

// UpdateMiningStats writes a user's mining stats document as a whole
func (s *SQLiteStorage) UpdateMiningStats(userID string, stats MiningStats) error {
	blob, err := json.Marshal(statsDoc{Version: statsDocVersion, MiningStats: stats})
	if err != nil {
		return err
	}

	res, err := s.db.Exec("UPDATE users SET mining_stats = ? WHERE id = ?", string(blob), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
