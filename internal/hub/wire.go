package hub

// The hub speaks newline-delimited JSON frames over a Unix socket. One
// envelope covers every op; unused fields stay empty on the wire.

// Frame ops.
const (
	OpRegister   = "register"   // client -> hub: claim a session ID
	OpRegistered = "registered" // hub -> client: registration ack + roster
	OpSend       = "send"       // client -> hub: route and durably append
	OpNotify     = "notify"     // client -> hub: route only (already persisted)
	OpSent       = "sent"       // hub -> client: send/notify ack
	OpRoster     = "roster"     // either direction: connected sessions
	OpMessage    = "message"    // hub -> client: pushed delivery
	OpError      = "error"      // hub -> client: protocol error
)

// Frame is the wire envelope.
type Frame struct {
	Op        string   `json:"op"`
	Session   string   `json:"session,omitempty"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Type      string   `json:"type,omitempty"`
	Body      string   `json:"body,omitempty"`
	ID        string   `json:"id,omitempty"`
	Seq       int64    `json:"seq,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	Roster    []string `json:"roster,omitempty"`
	Routed    []string `json:"routed,omitempty"`
	Broadcast bool     `json:"broadcast,omitempty"`
	Timestamp string   `json:"ts,omitempty"`
	Error     string   `json:"error,omitempty"`
}
