package store

import (
	"context"
	"fmt"

	"github.com/eldtechnologies/courier/internal/config"
	"github.com/eldtechnologies/courier/internal/models"
)

// Query narrows a MessagesAfter read.
type Query struct {
	Limit     int         // 0 = unbounded
	Type      models.Type // "" = all types
	Recipient string      // "" = no recipient filtering
}

// MessageStore is the durable, room-scoped message log. Append is the
// single correctness-critical operation: concurrent appends to one room
// must yield a gapless, strictly increasing sequence starting at 1.
// SQLiteStore, PostgresStore and FileStore implement this interface.
type MessageStore interface {
	// Append atomically assigns the next sequence number in the room
	// and persists the message.
	Append(ctx context.Context, room, sender string, typ models.Type, recipient, body string) (*models.Message, error)

	// MessagesAfter returns messages with seq strictly greater than
	// after, in ascending seq order.
	MessagesAfter(ctx context.Context, room string, after int64, q Query) ([]models.Message, error)

	// Cursor returns the session's last-acknowledged sequence number
	// (0 if the session has never read).
	Cursor(ctx context.Context, room, session string) (int64, error)

	// AdvanceCursor moves the session's cursor forward. Values at or
	// below the current position are ignored; cursors never regress.
	AdvanceCursor(ctx context.Context, room, session string, seq int64) error

	// MessageCount returns the number of messages in the room.
	MessageCount(ctx context.Context, room string) (int64, error)

	// Sessions lists session IDs holding a cursor in the room.
	Sessions(ctx context.Context, room string) ([]string, error)

	// Clear removes all messages and cursors for the room. Aliases and
	// pairings live in the global store and are unaffected.
	Clear(ctx context.Context, room string) error

	Close() error
}

// GlobalStore holds host-global state shared across rooms: alias
// mappings and symmetric peer pairings.
type GlobalStore interface {
	SetAlias(ctx context.Context, name, session string) error
	Alias(ctx context.Context, name string) (string, error) // "" if unset
	Aliases(ctx context.Context) (map[string]string, error)
	DeleteAlias(ctx context.Context, name string) (bool, error)

	Pair(ctx context.Context, roomA, roomB string) error
	Unpair(ctx context.Context, roomA, roomB string) (bool, error)
	UnpairAll(ctx context.Context, room string) ([]string, error)
	Peers(ctx context.Context, room string) ([]string, error)

	Close() error
}

// Open selects a message store backend from configuration.
func Open(ctx context.Context, cfg *config.Config) (MessageStore, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return NewSQLiteStore(ctx, cfg.Home)
	case config.BackendFile:
		return NewFileStore(cfg.Home), nil
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("backend %q requires COURIER_DATABASE_URL", cfg.Backend)
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
