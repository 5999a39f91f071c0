package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/courier/internal/models"
)

func TestFileAppendAndReadBack(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	m1, err := s.Append(ctx, "alpha", "worker", models.TypeTask, "reviewer", "check this")
	require.NoError(t, err)
	require.Equal(t, int64(1), m1.Seq)

	m2, err := s.Append(ctx, "alpha", "reviewer", models.TypeReply, "worker", "done")
	require.NoError(t, err)
	require.Equal(t, int64(2), m2.Seq)

	msgs, err := s.MessagesAfter(ctx, "alpha", 0, Query{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "check this", msgs[0].Body)
	require.Equal(t, models.TypeReply, msgs[1].Type)
	require.Equal(t, "worker", msgs[1].Recipient)
}

func TestFileConcurrentAppendsAreGapless(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	const writers = 6
	const perWriter = 5

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Append(ctx, "busy", fmt.Sprintf("w%d", w), models.TypeMsg, "", "x")
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	msgs, err := s.MessagesAfter(ctx, "busy", 0, Query{})
	require.NoError(t, err)
	require.Len(t, msgs, writers*perWriter)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.Seq)
	}
}

func TestFileCursorLifecycle(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	pos, err := s.Cursor(ctx, "r", "sess")
	require.NoError(t, err)
	require.Equal(t, int64(0), pos)

	require.NoError(t, s.AdvanceCursor(ctx, "r", "sess", 4))
	require.NoError(t, s.AdvanceCursor(ctx, "r", "sess", 2)) // stale, ignored

	pos, err = s.Cursor(ctx, "r", "sess")
	require.NoError(t, err)
	require.Equal(t, int64(4), pos)

	sessions, err := s.Sessions(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, []string{"sess"}, sessions)
}

func TestFileMessagesAfterFilters(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	_, err := s.Append(ctx, "r", "a", models.TypeMsg, "", "plain")
	require.NoError(t, err)
	_, err = s.Append(ctx, "r", "a", models.TypeUrgent, "bob", "hurry")
	require.NoError(t, err)
	_, err = s.Append(ctx, "r", "a", models.TypeUrgent, "carol", "later")
	require.NoError(t, err)

	urgent, err := s.MessagesAfter(ctx, "r", 0, Query{Type: models.TypeUrgent})
	require.NoError(t, err)
	require.Len(t, urgent, 2)

	forBob, err := s.MessagesAfter(ctx, "r", 0, Query{Type: models.TypeUrgent, Recipient: "bob"})
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	require.Equal(t, "hurry", forBob[0].Body)

	limited, err := s.MessagesAfter(ctx, "r", 0, Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, int64(1), limited[0].Seq)
}

func TestFileClearKeepsRoomDir(t *testing.T) {
	home := t.TempDir()
	s := NewFileStore(home)
	ctx := context.Background()

	_, err := s.Append(ctx, "r", "a", models.TypeMsg, "", "bye")
	require.NoError(t, err)
	require.NoError(t, s.AdvanceCursor(ctx, "r", "a", 1))

	require.NoError(t, s.Clear(ctx, "r"))

	count, err := s.MessageCount(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	sessions, err := s.Sessions(ctx, "r")
	require.NoError(t, err)
	require.Empty(t, sessions)

	// The room directory survives; the hub socket lives there.
	_, err = os.Stat(s.roomDir("r"))
	require.NoError(t, err)
}
