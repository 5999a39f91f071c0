// Package bus is the facade every collaborator calls: durable sends,
// cursor-tracked reads, blocking waits and peer broadcast, layered on a
// MessageStore and the global alias/pairing store. Live hub delivery is
// attached as an optional Notifier; when it fails the durable path has
// already done its job.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

// WaitCeiling bounds every wait regardless of the caller's timeout.
const WaitCeiling = 300 * time.Second

// DefaultWaitTimeout applies when the caller gives no timeout.
const DefaultWaitTimeout = 30 * time.Second

// Notifier pushes an already-persisted message to live hub
// connections. Implementations must be best-effort; the bus ignores
// their errors.
type Notifier interface {
	Notify(ctx context.Context, msg *models.Message, mentions []string) error
}

// Bus combines the message store, the global store and the addressing
// resolver into the send/read/check/wait/status/clear operations.
type Bus struct {
	session  string
	msgs     store.MessageStore
	global   store.GlobalStore
	resolver *Resolver
	notifier Notifier // nil = no live delivery
}

// New creates a Bus for one session identity.
func New(session string, msgs store.MessageStore, global store.GlobalStore) *Bus {
	return &Bus{
		session:  session,
		msgs:     msgs,
		global:   global,
		resolver: NewResolver(global),
	}
}

// WithNotifier attaches a live-delivery notifier.
func (b *Bus) WithNotifier(n Notifier) *Bus {
	b.notifier = n
	return b
}

// Session returns the bus's session identity.
func (b *Bus) Session() string { return b.session }

// Resolver exposes the addressing resolver (the hub shares it).
func (b *Bus) Resolver() *Resolver { return b.resolver }

// SendResult is the JSON payload of a successful send.
type SendResult struct {
	Sent      string    `json:"sent"`
	Session   string    `json:"session"`
	Room      string    `json:"room"`
	Type      string    `json:"type"`
	To        string    `json:"to,omitempty"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Send resolves addressing, appends durably, then attempts live
// delivery. The stored recipient comes only from the explicit target;
// body @mentions stay advisory so one message can address several
// sessions without rewriting it.
func (b *Bus) Send(ctx context.Context, room, body string, typ models.Type, to string) (*SendResult, error) {
	if body == "" {
		return nil, fmt.Errorf("no message provided")
	}

	recipient := ""
	if to != "" {
		resolved, err := b.resolver.ResolveTarget(ctx, to)
		if err != nil {
			return nil, err
		}
		recipient = resolved
	}

	msg, err := b.msgs.Append(ctx, room, b.session, typ, recipient, body)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	// Live push is best-effort and re-checked on every send: a hub
	// that died mid-session must not wedge the durable path.
	if b.notifier != nil {
		mentions, merr := b.resolver.ResolveMentions(ctx, body)
		if merr == nil {
			_ = b.notifier.Notify(ctx, msg, mentions)
		}
	}

	return &SendResult{
		Sent:      body,
		Session:   b.session,
		Room:      room,
		Type:      string(typ),
		To:        recipient,
		Seq:       msg.Seq,
		Timestamp: msg.Timestamp,
	}, nil
}

// ReadOptions narrow a Read.
type ReadOptions struct {
	All    bool        // full history, cursor untouched
	Limit  int         // 0 = unbounded
	Filter models.Type // "" = all types
	ForMe  bool        // recipient/mention filtering
}

// ReadResult is the JSON payload of read/check.
type ReadResult struct {
	Messages []models.Message `json:"messages"`
	NewCount int              `json:"new_count"`
	Total    int64            `json:"total"`
}

// Read returns unread messages and advances the cursor to the highest
// sequence returned. With All set it is a peek: every message in the
// room, no cursor movement.
func (b *Bus) Read(ctx context.Context, room string, opts ReadOptions) (*ReadResult, error) {
	since := int64(0)
	if !opts.All {
		cursor, err := b.msgs.Cursor(ctx, room, b.session)
		if err != nil {
			return nil, err
		}
		since = cursor
	}

	messages, err := b.msgs.MessagesAfter(ctx, room, since, store.Query{Type: opts.Filter})
	if err != nil {
		return nil, err
	}

	if opts.ForMe {
		filtered := messages[:0]
		for i := range messages {
			ok, err := b.resolver.ForMe(ctx, &messages[i], b.session)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, messages[i])
			}
		}
		messages = filtered
	}

	if opts.Limit > 0 && len(messages) > opts.Limit {
		if opts.All {
			// Peeking history: the most recent N matter.
			messages = messages[len(messages)-opts.Limit:]
		} else {
			// Catching up: oldest unread first.
			messages = messages[:opts.Limit]
		}
	}

	if !opts.All && len(messages) > 0 {
		if err := b.msgs.AdvanceCursor(ctx, room, b.session, messages[len(messages)-1].Seq); err != nil {
			return nil, err
		}
	}

	total, err := b.msgs.MessageCount(ctx, room)
	if err != nil {
		return nil, err
	}

	if messages == nil {
		messages = []models.Message{}
	}
	return &ReadResult{Messages: messages, NewCount: len(messages), Total: total}, nil
}

// WaitResult is the JSON payload of wait. Timeout is an expected
// outcome, not an error.
type WaitResult struct {
	Messages []models.Message `json:"messages"`
	NewCount int              `json:"new_count"`
	Waited   float64          `json:"waited"`
	Timeout  bool             `json:"timeout,omitempty"`
}

// Wait polls for unread messages until something arrives or the
// deadline passes. The timeout is clamped to WaitCeiling; a deadline
// leaves the cursor untouched so the call is retryable.
func (b *Bus) Wait(ctx context.Context, room string, timeout, interval time.Duration) (*WaitResult, error) {
	if timeout <= 0 || timeout > WaitCeiling {
		timeout = WaitCeiling
	}
	if interval <= 0 {
		interval = time.Second
	}

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		res, err := b.Read(ctx, room, ReadOptions{})
		if err != nil {
			return nil, err
		}
		if res.NewCount > 0 {
			return &WaitResult{
				Messages: res.Messages,
				NewCount: res.NewCount,
				Waited:   round1(time.Since(start)),
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining < interval {
			interval = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return &WaitResult{
		Messages: []models.Message{},
		Waited:   round1(time.Since(start)),
		Timeout:  true,
	}, nil
}

func round1(d time.Duration) float64 {
	return float64(int64(d.Seconds()*10)) / 10
}

// BroadcastResult is the JSON payload of broadcast.
type BroadcastResult struct {
	Sent         string   `json:"sent"`
	Session      string   `json:"session"`
	Type         string   `json:"type"`
	Targets      []string `json:"targets"`
	MessagesSent int      `json:"messages_sent"`
}

// Broadcast sends a BROADCAST-typed message. With allPeers it fans out
// one append per paired room; rooms are isolated stores, so this is a
// sequence of single-room writes, not one multi-room write. Without
// allPeers it is a room-wide broadcast into the sending room.
func (b *Bus) Broadcast(ctx context.Context, room, body string, allPeers bool) (*BroadcastResult, error) {
	if body == "" {
		return nil, fmt.Errorf("no message provided")
	}

	if !allPeers {
		if _, err := b.msgs.Append(ctx, room, b.session, models.TypeBroadcast, "", body); err != nil {
			return nil, err
		}
		return &BroadcastResult{
			Sent:         body,
			Session:      b.session,
			Type:         string(models.TypeBroadcast),
			Targets:      []string{room},
			MessagesSent: 1,
		}, nil
	}

	peers, err := b.global.Peers(ctx, room)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("room %q has no paired peers", room)
	}

	for _, peer := range peers {
		if _, err := b.msgs.Append(ctx, peer, b.session, models.TypeBroadcast, "", body); err != nil {
			return nil, fmt.Errorf("broadcast to %q: %w", peer, err)
		}
	}
	return &BroadcastResult{
		Sent:         body,
		Session:      b.session,
		Type:         string(models.TypeBroadcast),
		Targets:      peers,
		MessagesSent: len(peers),
	}, nil
}

// StatusResult is the JSON payload of status.
type StatusResult struct {
	Room         string   `json:"room"`
	Session      string   `json:"session"`
	Active       bool     `json:"active"`
	MessageCount int64    `json:"message_count"`
	Sessions     []string `json:"sessions"`
	Peers        []string `json:"peers"`
}

// Status reports the room's message count, known sessions and peers.
func (b *Bus) Status(ctx context.Context, room string) (*StatusResult, error) {
	count, err := b.msgs.MessageCount(ctx, room)
	if err != nil {
		return nil, err
	}
	sessions, err := b.msgs.Sessions(ctx, room)
	if err != nil {
		return nil, err
	}
	peers, err := b.global.Peers(ctx, room)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []string{}
	}
	if peers == nil {
		peers = []string{}
	}
	return &StatusResult{
		Room:         room,
		Session:      b.session,
		Active:       count > 0 || len(sessions) > 0,
		MessageCount: count,
		Sessions:     sessions,
		Peers:        peers,
	}, nil
}

// Clear removes the room's messages and cursors. Aliases and pairings
// are global and survive.
func (b *Bus) Clear(ctx context.Context, room string) error {
	return b.msgs.Clear(ctx, room)
}
