package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/courier/internal/models"
)

// SQLiteStore is the default durable message store. One database file
// holds every room; rows are scoped by the room column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the message database
// under home. WAL mode allows concurrent readers across processes;
// _txlock=immediate serializes writers at transaction start, which is
// what makes Append's MAX(seq)+1 assignment race-free.
func NewSQLiteStore(ctx context.Context, home string) (*SQLiteStore, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(home, "messages.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		room      TEXT NOT NULL,
		seq       INTEGER NOT NULL,
		ts        DATETIME NOT NULL,
		sender    TEXT NOT NULL,
		type      TEXT NOT NULL DEFAULT 'MSG',
		recipient TEXT NOT NULL DEFAULT '',
		body      TEXT NOT NULL,
		PRIMARY KEY (room, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_type ON messages(room, type);

	CREATE TABLE IF NOT EXISTS cursors (
		room     TEXT NOT NULL,
		session  TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (room, session)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append assigns the next per-room sequence number and inserts the
// message in a single immediate transaction.
func (s *SQLiteStore) Append(ctx context.Context, room, sender string, typ models.Type, recipient, body string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE room = ?`, room,
	).Scan(&seq)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (room, seq, ts, sender, type, recipient, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, room, seq, now, sender, string(typ), recipient, body)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return &models.Message{
		Seq:       seq,
		Room:      room,
		Timestamp: now,
		Sender:    sender,
		Type:      typ,
		Recipient: recipient,
		Body:      body,
	}, nil
}

// MessagesAfter returns messages with seq > after in ascending order.
func (s *SQLiteStore) MessagesAfter(ctx context.Context, room string, after int64, q Query) ([]models.Message, error) {
	query := `
		SELECT seq, ts, sender, type, recipient, body
		FROM messages
		WHERE room = ? AND seq > ?`
	args := []any{room, after}

	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(q.Type))
	}
	query += ` ORDER BY seq ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var typ string
		if err := rows.Scan(&m.Seq, &m.Timestamp, &m.Sender, &typ, &m.Recipient, &m.Body); err != nil {
			return nil, err
		}
		m.Room = room
		m.Type = models.Type(typ)
		if q.Recipient != "" && !RecipientMatches(m.Recipient, q.Recipient) {
			continue
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Cursor returns the session's read position, 0 if never read.
func (s *SQLiteStore) Cursor(ctx context.Context, room, session string) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM cursors WHERE room = ? AND session = ?`, room, session,
	).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// AdvanceCursor moves the cursor forward, never backward. The upsert's
// WHERE clause makes stale advances a no-op.
func (s *SQLiteStore) AdvanceCursor(ctx context.Context, room, session string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (room, session, position) VALUES (?, ?, ?)
		ON CONFLICT (room, session) DO UPDATE SET position = excluded.position
		WHERE excluded.position > cursors.position
	`, room, session, seq)
	return err
}

// MessageCount returns the number of messages stored in the room.
func (s *SQLiteStore) MessageCount(ctx context.Context, room string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room = ?`, room,
	).Scan(&count)
	return count, err
}

// Sessions lists sessions holding a cursor in the room.
func (s *SQLiteStore) Sessions(ctx context.Context, room string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session FROM cursors WHERE room = ? ORDER BY session`, room,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		sessions = append(sessions, sid)
	}
	return sessions, rows.Err()
}

// Clear removes the room's messages and cursors.
func (s *SQLiteStore) Clear(ctx context.Context, room string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room = ?`, room); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cursors WHERE room = ?`, room); err != nil {
		return err
	}
	return tx.Commit()
}
