package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InitSessionEntriesTable creates the session_entries key/value table
func (sqlm *SQLiteManager) InitSessionEntriesTable() error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS session_entries (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (session_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_session_entries_updated ON session_entries(updated_at);
	`

	if _, err := sqlm.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create session_entries table: %v", err)
	}

	return nil
}

// CleanupStaleSessions removes sessions not written to within maxAge
func (sqlm *SQLiteManager) CleanupStaleSessions(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	result, err := sqlm.db.Exec(`
		DELETE FROM session_entries
		WHERE session_id IN (
			SELECT session_id FROM session_entries
			GROUP BY session_id
			HAVING MAX(updated_at) < ?
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale sessions: %v", err)
	}
	return result.RowsAffected()
}

// SessionStore is a session key/value map backed by session_entries
type SessionStore struct {
	db        *sql.DB
	sessionID string
}

// SessionStore returns the store scoped to sessionID
func (sqlm *SQLiteManager) SessionStore(sessionID string) *SessionStore {
	return &SessionStore{db: sqlm.db, sessionID: sessionID}
}

// SessionID returns the id the store is scoped to
func (s *SessionStore) SessionID() string {
	return s.sessionID
}

func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM session_entries WHERE session_id = ? AND key = ?",
		s.sessionID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get session key %s: %v", key, err)
	}
	return value, true, nil
}

func (s *SessionStore) Set(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_entries (session_id, key, value, updated_at)
		VALUES (?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(session_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.sessionID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set session key %s: %v", key, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, s.sessionID)
	for _, key := range keys {
		args = append(args, key)
	}

	query := fmt.Sprintf("DELETE FROM session_entries WHERE session_id = ? AND key IN (%s)", placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete session keys: %v", err)
	}
	return nil
}

func (s *SessionStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM session_entries WHERE session_id = ?", s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %v", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan session entry: %v", err)
		}
		values[key] = value
	}
	return values, rows.Err()
}

func (s *SessionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_entries WHERE session_id = ?", s.sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %v", err)
	}
	return nil
}
