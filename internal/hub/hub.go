// Package hub is the optional real-time layer: a long-running process
// holding live connections keyed by session ID. Every message it
// accepts is also durably appended; the hub is never the sole record
// of anything, so losing it only costs latency.
package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/bus"
	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

// DefaultIdleTimeout reaps connections that stop reading.
const DefaultIdleTimeout = 5 * time.Minute

// SocketName is the hub socket filename inside a room directory.
const SocketName = "hub.sock"

// PIDName is the hub pid filename inside a room directory.
const PIDName = "hub.pid"

// connection is one live session. CONNECTED is the only state a
// routing target can be in; a connection is either in the table and
// deliverable, or gone. The out channel is never closed: a replaced
// connection may still have a reply in flight from its own reader
// goroutine, so teardown signals done and closes the socket instead.
type connection struct {
	id      string // uuid, distinguishes replaced connections
	session string
	net     net.Conn
	out     chan Frame
	done    chan struct{}
	closed  sync.Once
}

func (c *connection) close() {
	c.closed.Do(func() {
		close(c.done)
		_ = c.net.Close()
	})
}

// push queues a frame for delivery without blocking. A full queue or a
// closed connection drops the frame; the durable store stays the
// record.
func (c *connection) push(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

// Server is the hub process for one room.
type Server struct {
	room        string
	roomDir     string
	idleTimeout time.Duration
	log         zerolog.Logger

	msgs     store.MessageStore
	resolver *bus.Resolver

	mu    sync.Mutex
	conns map[string]*connection

	ln net.Listener
}

// NewServer creates a hub server for a room.
func NewServer(room, roomDir string, msgs store.MessageStore, global store.GlobalStore, log zerolog.Logger) *Server {
	return &Server{
		room:        room,
		roomDir:     roomDir,
		idleTimeout: DefaultIdleTimeout,
		log:         log,
		msgs:        msgs,
		resolver:    bus.NewResolver(global),
		conns:       make(map[string]*connection),
	}
}

// SocketPath returns the hub socket path for a room directory.
func SocketPath(roomDir string) string {
	return filepath.Join(roomDir, SocketName)
}

// PIDPath returns the hub pid file path for a room directory.
func PIDPath(roomDir string) string {
	return filepath.Join(roomDir, PIDName)
}

// Run listens on the room's Unix socket until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.roomDir, 0o755); err != nil {
		return err
	}
	socketPath := SocketPath(s.roomDir)

	// A stale socket from a dead hub blocks bind; remove it.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on hub socket: %w", err)
	}
	s.ln = ln

	if err := writePID(PIDPath(s.roomDir)); err != nil {
		ln.Close()
		return err
	}

	s.log.Info().
		Str("room", s.room).
		Str("socket", socketPath).
		Int("pid", os.Getpid()).
		Msg("hub started")

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		metrics.ConnectionsTotal.Inc()
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) shutdown() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	for _, c := range s.conns {
		c.close()
	}
	s.conns = make(map[string]*connection)
	s.mu.Unlock()
	metrics.ActiveConnections.Set(0)

	_ = os.Remove(SocketPath(s.roomDir))
	_ = os.Remove(PIDPath(s.roomDir))
	s.log.Info().Str("room", s.room).Msg("hub stopped")
}

// handleConn drives one client. The first frame decides the mode:
// register opens a long-lived connection, notify is a one-shot
// routing request from a producer that already persisted its message.
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	r := bufio.NewReader(nc)

	first, err := s.readFrame(nc, r)
	if err != nil {
		_ = nc.Close()
		return
	}

	switch first.Op {
	case OpNotify:
		s.routeNotify(ctx, first)
		_ = nc.Close()
		return
	case OpRoster:
		s.writeFrame(nc, Frame{Op: OpRoster, Roster: s.roster()})
		_ = nc.Close()
		return
	case OpSend:
		// One-shot send from an unregistered producer. Routing by the
		// frame's session keeps a live connection under the same
		// session ID registered.
		if first.Session == "" {
			s.writeFrame(nc, Frame{Op: OpError, Error: "send without registration requires a session ID"})
		} else {
			s.oneShotSend(ctx, nc, first)
		}
		_ = nc.Close()
		return
	case OpRegister:
		// fall through below
	default:
		s.writeFrame(nc, Frame{Op: OpError, Error: "first frame must be register, send, notify or roster"})
		_ = nc.Close()
		return
	}

	if first.Session == "" {
		s.writeFrame(nc, Frame{Op: OpError, Error: "register requires a session ID"})
		_ = nc.Close()
		return
	}

	c := &connection{
		id:      uuid.New().String(),
		session: first.Session,
		net:     nc,
		out:     make(chan Frame, 64),
		done:    make(chan struct{}),
	}
	s.register(c)
	defer s.unregister(c)

	go s.writeLoop(c)

	c.push(Frame{Op: OpRegistered, Session: c.session, Roster: s.roster()})

	for {
		f, err := s.readFrame(nc, r)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) && !isClosedErr(err) {
				s.log.Debug().Err(err).Str("session", c.session).Msg("read failed")
			}
			return
		}

		switch f.Op {
		case OpSend:
			s.handleSend(ctx, c, *f)
		case OpNotify:
			s.routeNotify(ctx, f)
		case OpRoster:
			c.push(Frame{Op: OpRoster, Roster: s.roster()})
		default:
			c.push(Frame{Op: OpError, Error: fmt.Sprintf("unknown op %q", f.Op)})
		}
	}
}

func (s *Server) readFrame(nc net.Conn, r *bufio.Reader) (*Frame, error) {
	if err := nc.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
		return nil, err
	}
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

func (s *Server) writeFrame(nc net.Conn, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = nc.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, _ = nc.Write(append(data, '\n'))
}

func (s *Server) writeLoop(c *connection) {
	for {
		select {
		case f := <-c.out:
			s.writeFrame(c.net, f)
		case <-c.done:
			return
		}
	}
}

// register installs the connection, replacing any stale one with the
// same session ID (last-connect-wins).
func (s *Server) register(c *connection) {
	s.mu.Lock()
	old, existed := s.conns[c.session]
	s.conns[c.session] = c
	s.mu.Unlock()

	if existed {
		old.close()
		metrics.ConnectionsReplaced.Inc()
	}
	metrics.ActiveConnections.Set(float64(s.connCount()))
	s.log.Info().Str("session", c.session).Bool("replaced", existed).Msg("registered")
}

// unregister removes the connection only if it still owns its slot; a
// replacement that arrived meanwhile keeps the session registered.
func (s *Server) unregister(c *connection) {
	s.mu.Lock()
	if cur, ok := s.conns[c.session]; ok && cur.id == c.id {
		delete(s.conns, c.session)
		s.mu.Unlock()
		c.close()
		metrics.ActiveConnections.Set(float64(s.connCount()))
		s.log.Info().Str("session", c.session).Msg("disconnected")
		return
	}
	s.mu.Unlock()
	c.close()
}

func (s *Server) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]string, 0, len(s.conns))
	for sid := range s.conns {
		sessions = append(sessions, sid)
	}
	return sessions
}

// handleSend durably appends, then routes to live connections.
func (s *Server) handleSend(ctx context.Context, c *connection, f Frame) {
	c.push(s.appendAndRoute(ctx, c.session, f))
}

// oneShotSend serves a send from an unregistered connection.
func (s *Server) oneShotSend(ctx context.Context, nc net.Conn, f *Frame) {
	s.writeFrame(nc, s.appendAndRoute(ctx, f.Session, *f))
}

// appendAndRoute is the durable half plus the live half of a hub send.
// The reply is either a sent ack or an error frame.
func (s *Server) appendAndRoute(ctx context.Context, sender string, f Frame) Frame {
	typ := models.TypeMsg
	if f.Type != "" {
		parsed, err := models.ParseType(f.Type)
		if err != nil {
			return Frame{Op: OpError, Error: err.Error()}
		}
		typ = parsed
	}
	if f.Body == "" {
		return Frame{Op: OpError, Error: "no message provided"}
	}

	msg, err := s.msgs.Append(ctx, s.room, sender, typ, "", f.Body)
	if err != nil {
		s.log.Error().Err(err).Str("session", sender).Msg("append failed")
		return Frame{Op: OpError, Error: "append failed"}
	}
	metrics.AppendsTotal.Inc()

	mentions, err := s.resolver.ResolveMentions(ctx, f.Body)
	if err != nil {
		s.log.Warn().Err(err).Msg("mention resolution failed")
		mentions = nil
	}

	df := deliveryFrame(msg, mentions)
	routed, broadcast := s.route(df, mentions, msg.Recipient, sender)
	return Frame{Op: OpSent, ID: df.ID, Seq: msg.Seq, Routed: routed, Broadcast: broadcast}
}

// routeNotify routes a message the producer already persisted.
func (s *Server) routeNotify(ctx context.Context, f *Frame) {
	msg := &models.Message{
		Seq:       f.Seq,
		Room:      s.room,
		Sender:    f.From,
		Type:      models.Type(f.Type),
		Recipient: f.To,
		Body:      f.Body,
	}
	s.route(deliveryFrame(msg, f.Mentions), f.Mentions, f.To, f.From)
}

func deliveryFrame(msg *models.Message, mentions []string) Frame {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Frame{
		Op:        OpMessage,
		ID:        ulid.Make().String(),
		Seq:       msg.Seq,
		From:      msg.Sender,
		To:        msg.Recipient,
		Type:      string(msg.Type),
		Body:      msg.Body,
		Mentions:  mentions,
		Timestamp: ts.Format(time.RFC3339),
	}
}

// route pushes a delivery to its targets. Mentioned (or directly
// addressed) sessions that are connected get the message; with no
// targets at all, everyone except the sender does. Push is
// non-blocking: a full queue drops the live copy, the durable store
// keeps the record.
func (s *Server) route(f Frame, mentions []string, recipient, sender string) (routed []string, broadcast bool) {
	targets := make(map[string]bool)
	for _, m := range mentions {
		if m == "all" || m == "*" {
			targets = nil // explicit broadcast
			break
		}
		targets[m] = true
	}
	if targets != nil && recipient != "" && recipient != "all" && recipient != "*" {
		for _, part := range strings.Split(recipient, ",") {
			if part = strings.TrimSpace(part); part != "" {
				targets[part] = true
			}
		}
	}
	broadcast = targets == nil || len(targets) == 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for sid, c := range s.conns {
		if broadcast {
			if sid == sender {
				continue
			}
		} else if !targets[sid] {
			continue
		}
		if c.push(f) {
			routed = append(routed, sid)
		} else {
			metrics.DeliveriesDropped.Inc()
			s.log.Warn().Str("session", sid).Msg("delivery queue full, dropping live push")
		}
	}

	mode := "mention"
	if broadcast {
		mode = "broadcast"
	}
	metrics.MessagesRouted.WithLabelValues(mode).Add(float64(len(routed)))
	return routed, broadcast
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// writePID records the hub pid, refusing to clobber a live hub.
func writePID(path string) error {
	if pid, ok := ReadPID(path); ok {
		return fmt.Errorf("hub already running (pid %d)", pid)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPID returns the recorded hub pid if that process is still alive.
// A stale pid file is removed on the way.
func ReadPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(path)
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(path)
		return 0, false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(path)
		return 0, false
	}
	return pid, true
}
