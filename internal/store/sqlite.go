// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/agency/transcript persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// createSchema creates all tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		agency_id  TEXT NOT NULL,
		thread_ids TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS agencies (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		definition TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role       TEXT NOT NULL,
		sender     TEXT NOT NULL,
		recipient  TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS user_variables (
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession persists a new session
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	threads, err := encodeThreadIDs(session.ThreadIDs)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, agency_id, thread_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.AgencyID, threads,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, returning ErrNotFound if absent
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agency_id, thread_ids, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	return scanSession(row)
}

// ListSessionsByUser returns all sessions owned by a user, most recent first
func (s *SQLiteStore) ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, agency_id, thread_ids, created_at, updated_at
		 FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionThreads replaces the stored thread ID map for a session
func (s *SQLiteStore) UpdateSessionThreads(ctx context.Context, id string, threadIDs map[string]string) error {
	threads, err := encodeThreadIDs(threadIDs)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET thread_ids = ?, updated_at = ? WHERE id = ?`,
		threads, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating session threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSession updates the session's last-active timestamp
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutAgency inserts or replaces an agency definition
func (s *SQLiteStore) PutAgency(ctx context.Context, agency *Agency) error {
	definition, err := json.Marshal(agency)
	if err != nil {
		return fmt.Errorf("encoding agency definition: %w", err)
	}

	now := time.Now().UTC()
	if agency.CreatedAt.IsZero() {
		agency.CreatedAt = now
	}
	agency.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agencies (id, name, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, definition = excluded.definition, updated_at = excluded.updated_at`,
		agency.ID, agency.Name, string(definition), agency.CreatedAt, agency.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting agency: %w", err)
	}
	return nil
}

// GetAgency retrieves an agency by ID, returning ErrNotFound if absent
func (s *SQLiteStore) GetAgency(ctx context.Context, id string) (*Agency, error) {
	var definition string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT definition, created_at, updated_at FROM agencies WHERE id = ?`, id).
		Scan(&definition, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agency: %w", err)
	}

	var agency Agency
	if err := json.Unmarshal([]byte(definition), &agency); err != nil {
		return nil, fmt.Errorf("decoding agency definition: %w", err)
	}
	agency.CreatedAt = createdAt
	agency.UpdatedAt = updatedAt
	return &agency, nil
}

// ListAgencies returns all stored agencies ordered by name
func (s *SQLiteStore) ListAgencies(ctx context.Context) ([]*Agency, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition, created_at, updated_at FROM agencies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying agencies: %w", err)
	}
	defer rows.Close()

	var agencies []*Agency
	for rows.Next() {
		var definition string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&definition, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		var agency Agency
		if err := json.Unmarshal([]byte(definition), &agency); err != nil {
			return nil, fmt.Errorf("decoding agency definition: %w", err)
		}
		agency.CreatedAt = createdAt
		agency.UpdatedAt = updatedAt
		agencies = append(agencies, &agency)
	}
	return agencies, rows.Err()
}

// SaveMessage persists a transcript entry
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, sender, recipient, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Sender, msg.Recipient, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetSessionMessages returns the ordered transcript for a session
func (s *SQLiteStore) GetSessionMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, sender, recipient, content, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Sender,
			&msg.Recipient, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// SetUserVariable stores an encrypted variable value for a user
func (s *SQLiteStore) SetUserVariable(ctx context.Context, userID, name string, ciphertext []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_variables (user_id, name, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, name) DO UPDATE SET
		   value = excluded.value, updated_at = excluded.updated_at`,
		userID, name, ciphertext, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting user variable: %w", err)
	}
	return nil
}

// GetUserVariable retrieves an encrypted variable value, returning ErrNotFound if absent
func (s *SQLiteStore) GetUserVariable(ctx context.Context, userID, name string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_variables WHERE user_id = ? AND name = ?`,
		userID, name).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user variable: %w", err)
	}
	return value, nil
}

// ListUserVariableNames returns the names of all variables set for a user
func (s *SQLiteStore) ListUserVariableNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM user_variables WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying user variables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanSession
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var session Session
	var threads string
	err := row.Scan(&session.ID, &session.UserID, &session.AgencyID, &threads,
		&session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if err := json.Unmarshal([]byte(threads), &session.ThreadIDs); err != nil {
		return nil, fmt.Errorf("decoding thread ids: %w", err)
	}
	return &session, nil
}

func encodeThreadIDs(threadIDs map[string]string) (string, error) {
	if threadIDs == nil {
		threadIDs = map[string]string{}
	}
	data, err := json.Marshal(threadIDs)
	if err != nil {
		return "", fmt.Errorf("encoding thread ids: %w", err)
	}
	return string(data), nil
}
