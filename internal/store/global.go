package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// GlobalSQLiteStore holds host-global state: alias mappings and the
// symmetric peer-pairing relation. It is deliberately separate from the
// message store so Clear on a room never touches it, and so the file
// backend shares the same alias/pairing data as the relational ones.
type GlobalSQLiteStore struct {
	db *sql.DB
}

// NewGlobalStore opens (and if needed creates) global.db under home.
func NewGlobalStore(ctx context.Context, home string) (*GlobalSQLiteStore, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(home, "global.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &GlobalSQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GlobalSQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS aliases (
		name    TEXT PRIMARY KEY,
		session TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS peers (
		room_a TEXT NOT NULL,
		room_b TEXT NOT NULL,
		PRIMARY KEY (room_a, room_b)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *GlobalSQLiteStore) Close() error {
	return s.db.Close()
}

// SetAlias creates or overwrites an alias.
func (s *GlobalSQLiteStore) SetAlias(ctx context.Context, name, session string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (name, session) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET session = excluded.session
	`, name, session)
	return err
}

// Alias resolves an alias name, returning "" when unset.
func (s *GlobalSQLiteStore) Alias(ctx context.Context, name string) (string, error) {
	var session string
	err := s.db.QueryRowContext(ctx,
		`SELECT session FROM aliases WHERE name = ?`, name,
	).Scan(&session)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return session, nil
}

// Aliases returns every alias mapping.
func (s *GlobalSQLiteStore) Aliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, session FROM aliases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aliases := make(map[string]string)
	for rows.Next() {
		var name, session string
		if err := rows.Scan(&name, &session); err != nil {
			return nil, err
		}
		aliases[name] = session
	}
	return aliases, rows.Err()
}

// DeleteAlias removes an alias, reporting whether it existed.
func (s *GlobalSQLiteStore) DeleteAlias(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM aliases WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// pairKey stores each pairing once, in lexical order.
func pairKey(roomA, roomB string) (string, string) {
	if roomB < roomA {
		return roomB, roomA
	}
	return roomA, roomB
}

// Pair records a symmetric pairing between two rooms. Idempotent.
func (s *GlobalSQLiteStore) Pair(ctx context.Context, roomA, roomB string) error {
	a, b := pairKey(roomA, roomB)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (room_a, room_b) VALUES (?, ?)
		ON CONFLICT (room_a, room_b) DO NOTHING
	`, a, b)
	return err
}

// Unpair removes one pairing, reporting whether it existed.
func (s *GlobalSQLiteStore) Unpair(ctx context.Context, roomA, roomB string) (bool, error) {
	a, b := pairKey(roomA, roomB)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM peers WHERE room_a = ? AND room_b = ?`, a, b)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UnpairAll removes every pairing involving the room and returns the
// peers that were removed.
func (s *GlobalSQLiteStore) UnpairAll(ctx context.Context, room string) ([]string, error) {
	removed, err := s.Peers(ctx, room)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM peers WHERE room_a = ? OR room_b = ?`, room, room)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Peers lists the rooms paired with the given room.
func (s *GlobalSQLiteStore) Peers(ctx context.Context, room string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN room_a = ? THEN room_b ELSE room_a END
		FROM peers
		WHERE room_a = ? OR room_b = ?
		ORDER BY 1
	`, room, room, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
