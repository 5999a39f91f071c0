package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/courier/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAssignsSequentialSeqs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		msg, err := s.Append(ctx, "alpha", "worker", models.TypeMsg, "", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		require.Equal(t, int64(i), msg.Seq)
	}

	// Rooms number independently.
	msg, err := s.Append(ctx, "beta", "worker", models.TypeMsg, "", "first")
	require.NoError(t, err)
	require.Equal(t, int64(1), msg.Seq)
}

func TestConcurrentAppendsAreGapless(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, "busy", fmt.Sprintf("w%d", w), models.TypeMsg, "", "x"); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := s.MessagesAfter(ctx, "busy", 0, Query{})
	require.NoError(t, err)
	require.Len(t, msgs, writers*perWriter)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.Seq, "sequence must be gapless")
	}
}

func TestMessagesAfterFilterAndLimit(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "r", "a", models.TypeMsg, "", "one")
	require.NoError(t, err)
	_, err = s.Append(ctx, "r", "a", models.TypeTask, "", "two")
	require.NoError(t, err)
	_, err = s.Append(ctx, "r", "b", models.TypeTask, "", "three")
	require.NoError(t, err)
	_, err = s.Append(ctx, "r", "b", models.TypeReply, "a", "four")
	require.NoError(t, err)

	tasks, err := s.MessagesAfter(ctx, "r", 0, Query{Type: models.TypeTask})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "two", tasks[0].Body)

	after, err := s.MessagesAfter(ctx, "r", 2, Query{})
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, int64(3), after[0].Seq)

	limited, err := s.MessagesAfter(ctx, "r", 0, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, int64(1), limited[0].Seq)

	forA, err := s.MessagesAfter(ctx, "r", 0, Query{Recipient: "a"})
	require.NoError(t, err)
	require.Len(t, forA, 4) // empty recipients match everyone, "a" matches the reply
}

func TestCursorNeverRegresses(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	pos, err := s.Cursor(ctx, "r", "sess")
	require.NoError(t, err)
	require.Equal(t, int64(0), pos)

	require.NoError(t, s.AdvanceCursor(ctx, "r", "sess", 5))
	require.NoError(t, s.AdvanceCursor(ctx, "r", "sess", 3))

	pos, err = s.Cursor(ctx, "r", "sess")
	require.NoError(t, err)
	require.Equal(t, int64(5), pos)

	require.NoError(t, s.AdvanceCursor(ctx, "r", "sess", 9))
	pos, err = s.Cursor(ctx, "r", "sess")
	require.NoError(t, err)
	require.Equal(t, int64(9), pos)
}

func TestSessionsListsCursorHolders(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.AdvanceCursor(ctx, "r", "bob", 1))
	require.NoError(t, s.AdvanceCursor(ctx, "r", "alice", 2))
	require.NoError(t, s.AdvanceCursor(ctx, "other", "carol", 1))

	sessions, err := s.Sessions(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, sessions)
}

func TestClearIsRoomScoped(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "keep", "a", models.TypeMsg, "", "stays")
	require.NoError(t, err)
	_, err = s.Append(ctx, "gone", "a", models.TypeMsg, "", "goes")
	require.NoError(t, err)
	require.NoError(t, s.AdvanceCursor(ctx, "gone", "a", 1))

	require.NoError(t, s.Clear(ctx, "gone"))

	count, err := s.MessageCount(ctx, "gone")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	sessions, err := s.Sessions(ctx, "gone")
	require.NoError(t, err)
	require.Empty(t, sessions)

	count, err = s.MessageCount(ctx, "keep")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// Numbering restarts after a clear.
	msg, err := s.Append(ctx, "gone", "a", models.TypeMsg, "", "fresh")
	require.NoError(t, err)
	require.Equal(t, int64(1), msg.Seq)
}
