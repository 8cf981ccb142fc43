package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room       TEXT NOT NULL,
	sender     TEXT NOT NULL,
	message    TEXT NOT NULL,
	stamp      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, id);
`

// SQLiteSink stores entries in a SQLite database.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("archive: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("archive: create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: migrate sqlite: %w", err)
	}
	return &SQLiteSink{db: db, now: time.Now}, nil
}

// Append inserts one row per entry.
func (s *SQLiteSink) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(room, sender, message, stamp, created_at) VALUES(?,?,?,?,?)`,
		e.Room, e.Sender, e.Message, e.Stamp, s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive: insert message: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for room, oldest first. It exists for
// operators and tests; the server never replays from the archive.
func (s *SQLiteSink) Recent(ctx context.Context, room string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT room, sender, message, stamp FROM (
			SELECT id, room, sender, message, stamp FROM messages
			WHERE room = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: query messages: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Room, &e.Sender, &e.Message, &e.Stamp); err != nil {
			return nil, fmt.Errorf("archive: scan message: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
