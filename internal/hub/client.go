package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/eldtechnologies/courier/internal/models"
)

// ErrRecvTimeout marks a recv deadline: an expected outcome, not a
// failure.
var ErrRecvTimeout = errors.New("recv timed out")

// Client is one connection to a running hub.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the hub socket of a room directory.
func Dial(roomDir string) (*Client, error) {
	conn, err := net.DialTimeout("unix", SocketPath(roomDir), 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("hub not reachable: %w", err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the connection, dropping any undelivered queue on the
// hub side.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// readUntil reads frames until one matches op. Interleaved pushed
// deliveries that arrive while waiting for an ack are discarded on
// this connection; they remain readable from the durable store, so a
// caller mixing Send/Roster with Recv on one connection can lose live
// pushes but never messages. Error frames surface as errors.
func (c *Client) readUntil(op string, timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, ErrRecvTimeout
			}
			return nil, err
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		if f.Op == OpError {
			return nil, errors.New(f.Error)
		}
		if f.Op == op {
			return &f, nil
		}
	}
}

// Register claims a session ID and returns the connected roster.
func (c *Client) Register(session string) ([]string, error) {
	if err := c.write(Frame{Op: OpRegister, Session: session}); err != nil {
		return nil, err
	}
	f, err := c.readUntil(OpRegistered, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return f.Roster, nil
}

// Send routes a message through the hub; the hub also appends it
// durably. Returns the sent ack. On an unregistered connection the
// session identifies the sender; on a registered one the hub already
// knows it. Deliveries pushed while waiting for the ack are dropped
// (see readUntil).
func (c *Client) Send(session, typ, body string) (*Frame, error) {
	if err := c.write(Frame{Op: OpSend, Session: session, Type: typ, Body: body}); err != nil {
		return nil, err
	}
	return c.readUntil(OpSent, 5*time.Second)
}

// Recv blocks until a pushed delivery arrives or the timeout elapses.
func (c *Client) Recv(timeout time.Duration) (*Frame, error) {
	return c.readUntil(OpMessage, timeout)
}

// Roster asks for the currently connected sessions.
func (c *Client) Roster() ([]string, error) {
	if err := c.write(Frame{Op: OpRoster}); err != nil {
		return nil, err
	}
	f, err := c.readUntil(OpRoster, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return f.Roster, nil
}

// Notifier implements the bus's live-delivery hook: a fresh one-shot
// connection per send, so hub reachability is re-checked every time
// rather than cached.
type Notifier struct {
	roomDir string
}

// NewNotifier creates a notifier for a room directory.
func NewNotifier(roomDir string) *Notifier {
	return &Notifier{roomDir: roomDir}
}

// Notify pushes an already-persisted message to the hub for live
// routing. Any failure just means readers fall back to polling.
func (n *Notifier) Notify(ctx context.Context, msg *models.Message, mentions []string) error {
	c, err := Dial(n.roomDir)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.write(Frame{
		Op:       OpNotify,
		From:     msg.Sender,
		To:       msg.Recipient,
		Type:     string(msg.Type),
		Body:     msg.Body,
		Seq:      msg.Seq,
		Mentions: mentions,
	})
}
