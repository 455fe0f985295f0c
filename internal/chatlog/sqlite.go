package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and its parent
// directory, then runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("chatlog: data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chatlog: open: %w", err)
	}

	// WAL lets readers (the REST log endpoint) run alongside session writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatlog: wal: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id   TEXT NOT NULL DEFAULT '',
			username     TEXT NOT NULL DEFAULT '',
			action_type  TEXT NOT NULL DEFAULT '',
			action_value TEXT NOT NULL DEFAULT '',
			bot_response TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_log_session ON chat_log(session_id);
		CREATE INDEX IF NOT EXISTS idx_chat_log_username ON chat_log(username);
	`)
	if err != nil {
		return fmt.Errorf("chatlog: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, e protocol.ChatLogEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_log (session_id, username, action_type, action_value, bot_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.Username, e.ActionType, e.ActionValue, e.BotResponse, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("chatlog: record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]protocol.ChatLogEntry, error) {
	where, args := filter.where()
	query := "SELECT id, session_id, username, action_type, action_value, bot_response, created_at FROM chat_log" +
		where + " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chatlog: list: %w", err)
	}
	defer rows.Close()

	var entries []protocol.ChatLogEntry
	for rows.Next() {
		var e protocol.ChatLogEntry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Username, &e.ActionType, &e.ActionValue, &e.BotResponse, &created); err != nil {
			return nil, fmt.Errorf("chatlog: list scan: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where()
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_log"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("chatlog: count: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (f Filter) where() (string, []any) {
	clause := " WHERE 1=1"
	var args []any
	if f.SessionID != "" {
		clause += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Username != "" {
		clause += " AND username = ?"
		args = append(args, f.Username)
	}
	if f.ActionType != "" {
		clause += " AND action_type = ?"
		args = append(args, f.ActionType)
	}
	return clause, args
}
