package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lumenhq/lumen-go/internal/models"
	_ "modernc.org/sqlite"
)

// ErrPartialSession is returned by Save when the token pair is incomplete.
// A session never has an access token without a refresh token.
var ErrPartialSession = errors.New("session: access token without refresh token")

// Store persists the current token pair and the cached user profile so both
// survive process restarts. Save and Clear are transactional: no reader ever
// observes a half-written pair.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the session database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "session.db")

	// Pragmas in the DSN so every pool connection is configured
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize session schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	-- Single-row token pair
	CREATE TABLE IF NOT EXISTS session_tokens (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Single-row cached profile blob
	CREATE TABLE IF NOT EXISTS session_profile (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted session, or nil when unauthenticated.
func (s *Store) Load() (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess models.Session
	err := s.db.QueryRow(`
		SELECT access_token, refresh_token FROM session_tokens WHERE id = 1
	`).Scan(&sess.AccessToken, &sess.RefreshToken)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	return &sess, nil
}

// Save persists the token pair, replacing any previous one.
func (s *Store) Save(sess models.Session) error {
	if sess.AccessToken != "" && sess.RefreshToken == "" {
		return ErrPartialSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO session_tokens (id, access_token, refresh_token, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at
	`, sess.AccessToken, sess.RefreshToken, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// Clear removes the token pair and the cached profile together. Clearing an
// already-empty store is a no-op, so logout is safe to invoke from multiple
// failure paths.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM session_tokens"); err != nil {
		return fmt.Errorf("clear session tokens: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM session_profile"); err != nil {
		return fmt.Errorf("clear cached profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// LoadProfile returns the cached user profile, or nil when none is cached.
func (s *Store) LoadProfile() (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`
		SELECT data FROM session_profile WHERE id = 1
	`).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached profile: %w", err)
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}

	return &profile, nil
}

// SaveProfile overwrites the cached user profile.
func (s *Store) SaveProfile(profile models.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO session_profile (id, data, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save cached profile: %w", err)
	}

	return nil
}
