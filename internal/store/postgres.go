package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/courier/internal/models"
)

// PostgresStore is the relational backend for deployments where many
// hosts share one bus. Same contract as SQLiteStore; per-room append
// atomicity comes from a transaction-scoped advisory lock instead of
// SQLite's writer lock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		room      TEXT NOT NULL,
		seq       BIGINT NOT NULL,
		ts        TIMESTAMPTZ NOT NULL,
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
		position BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (room, session)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Append assigns the next per-room sequence number under an advisory
// lock keyed by the room name, so concurrent writers across hosts
// still produce a gapless run.
func (s *PostgresStore) Append(ctx context.Context, room, sender string, typ models.Type, recipient, body string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('courier:' || $1))`, room); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (room, seq, ts, sender, type, recipient, body)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		FROM messages WHERE room = $1
		RETURNING seq
	`, room, now, sender, string(typ), recipient, body).Scan(&seq)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
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
func (s *PostgresStore) MessagesAfter(ctx context.Context, room string, after int64, q Query) ([]models.Message, error) {
	query := `
		SELECT seq, ts, sender, type, recipient, body
		FROM messages
		WHERE room = $1 AND seq > $2`
	args := []any{room, after}

	if q.Type != "" {
		args = append(args, string(q.Type))
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	query += ` ORDER BY seq ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
func (s *PostgresStore) Cursor(ctx context.Context, room, session string) (int64, error) {
	var pos int64
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM cursors WHERE room = $1 AND session = $2`, room, session,
	).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// AdvanceCursor moves the cursor forward, never backward.
func (s *PostgresStore) AdvanceCursor(ctx context.Context, room, session string, seq int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cursors (room, session, position) VALUES ($1, $2, $3)
		ON CONFLICT (room, session) DO UPDATE SET position = EXCLUDED.position
		WHERE EXCLUDED.position > cursors.position
	`, room, session, seq)
	return err
}

// MessageCount returns the number of messages stored in the room.
func (s *PostgresStore) MessageCount(ctx context.Context, room string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE room = $1`, room,
	).Scan(&count)
	return count, err
}

// Sessions lists sessions holding a cursor in the room.
func (s *PostgresStore) Sessions(ctx context.Context, room string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session FROM cursors WHERE room = $1 ORDER BY session`, room,
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
func (s *PostgresStore) Clear(ctx context.Context, room string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE room = $1`, room); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cursors WHERE room = $1`, room); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
