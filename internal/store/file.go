package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/eldtechnologies/courier/internal/models"
)

// FileStore is the legacy flat-log backend: one directory per room with
// an append-only messages.log (one JSON object per line, seq = line
// number) and per-session cursor files. An OS advisory lock on .lock
// serializes writers, giving the same gapless-append guarantee as the
// relational backends.
type FileStore struct {
	home string
}

// NewFileStore creates a file store rooted at home.
func NewFileStore(home string) *FileStore {
	return &FileStore{home: home}
}

func (s *FileStore) roomDir(room string) string {
	return filepath.Join(s.home, "rooms", room)
}

func (s *FileStore) logPath(room string) string {
	return filepath.Join(s.roomDir(room), "messages.log")
}

func (s *FileStore) sessionsDir(room string) string {
	return filepath.Join(s.roomDir(room), "sessions")
}

// withLock runs fn while holding an exclusive flock on the room's lock
// file. The lock is released when the descriptor closes, so a crashed
// writer never wedges the room.
func (s *FileStore) withLock(room string, fn func() error) error {
	dir := s.roomDir(room)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("acquire room lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// Append writes the message as one JSON line; its sequence number is
// the resulting line count.
func (s *FileStore) Append(ctx context.Context, room, sender string, typ models.Type, recipient, body string) (*models.Message, error) {
	msg := &models.Message{
		Room:      room,
		Timestamp: time.Now().UTC(),
		Sender:    sender,
		Type:      typ,
		Recipient: recipient,
		Body:      body,
	}

	err := s.withLock(room, func() error {
		count, err := s.lineCount(room)
		if err != nil {
			return err
		}
		msg.Seq = count + 1

		line, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		f, err := os.OpenFile(s.logPath(room), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
		return f.Sync()
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *FileStore) lineCount(room string) (int64, error) {
	f, err := os.Open(s.logPath(room))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var count int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		count++
	}
	return count, sc.Err()
}

// MessagesAfter scans the log and returns messages with seq > after.
func (s *FileStore) MessagesAfter(ctx context.Context, room string, after int64, q Query) ([]models.Message, error) {
	f, err := os.Open(s.logPath(room))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var messages []models.Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var lineNo int64
	for sc.Scan() {
		lineNo++
		if lineNo <= after {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("corrupt log line %d in room %q: %w", lineNo, room, err)
		}
		m.Seq = lineNo
		m.Room = room
		if q.Type != "" && m.Type != q.Type {
			continue
		}
		if q.Recipient != "" && !RecipientMatches(m.Recipient, q.Recipient) {
			continue
		}
		messages = append(messages, m)
		if q.Limit > 0 && len(messages) >= q.Limit {
			break
		}
	}
	return messages, sc.Err()
}

// Cursor reads the session's cursor file, 0 if absent.
func (s *FileStore) Cursor(ctx context.Context, room, session string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionsDir(room), session))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pos, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, nil
	}
	return pos, nil
}

// AdvanceCursor writes the cursor file under the room lock so the
// read-compare-write is atomic against other advances.
func (s *FileStore) AdvanceCursor(ctx context.Context, room, session string, seq int64) error {
	return s.withLock(room, func() error {
		current, err := s.Cursor(ctx, room, session)
		if err != nil {
			return err
		}
		if seq <= current {
			return nil
		}
		if err := os.MkdirAll(s.sessionsDir(room), 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(s.sessionsDir(room), session), []byte(strconv.FormatInt(seq, 10)), 0o644)
	})
}

// MessageCount returns the log's line count.
func (s *FileStore) MessageCount(ctx context.Context, room string) (int64, error) {
	return s.lineCount(room)
}

// Sessions lists cursor files in the room.
func (s *FileStore) Sessions(ctx context.Context, room string) ([]string, error) {
	entries, err := os.ReadDir(s.sessionsDir(room))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []string
	for _, e := range entries {
		if !e.IsDir() {
			sessions = append(sessions, e.Name())
		}
	}
	return sessions, nil
}

// Clear removes the room's log and cursors. The room directory itself
// stays, since the hub socket may live there.
func (s *FileStore) Clear(ctx context.Context, room string) error {
	return s.withLock(room, func() error {
		if err := os.Remove(s.logPath(room)); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.RemoveAll(s.sessionsDir(room)); err != nil {
			return err
		}
		return nil
	})
}

// Close is a no-op; the file store holds no long-lived handles.
func (s *FileStore) Close() error {
	return nil
}
