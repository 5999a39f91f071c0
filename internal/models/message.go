package models

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies a message. The set is closed; anything else is a
// caller error at the CLI boundary.
type Type string

const (
	TypeMsg       Type = "MSG"
	TypeTask      Type = "TASK"
	TypeReply     Type = "REPLY"
	TypeStatus    Type = "STATUS"
	TypeUrgent    Type = "URGENT"
	TypeError     Type = "ERROR"
	TypeBroadcast Type = "BROADCAST"
)

// Types lists every valid message type.
var Types = []Type{TypeMsg, TypeTask, TypeReply, TypeStatus, TypeUrgent, TypeError, TypeBroadcast}

// ParseType normalizes and validates a message type string.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range Types {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Message is a single bus message. Immutable once appended: the store
// assigns Seq and nothing rewrites a stored row afterwards.
type Message struct {
	Seq       int64     `json:"seq"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"ts"`
	Sender    string    `json:"from"`
	Type      Type      `json:"type"`
	Recipient string    `json:"to,omitempty"` // empty = room-wide
	Body      string    `json:"body"`
}
