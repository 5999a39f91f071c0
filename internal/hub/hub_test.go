package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

type testHub struct {
	roomDir string
	msgs    store.MessageStore
	global  store.GlobalStore
}

func startHub(t *testing.T) *testHub {
	t.Helper()
	home := t.TempDir()
	ctx := context.Background()

	msgs, err := store.NewSQLiteStore(ctx, home)
	require.NoError(t, err)
	global, err := store.NewGlobalStore(ctx, home)
	require.NoError(t, err)

	roomDir := home + "/rooms/test"
	srv := NewServer("test", roomDir, msgs, global, zerolog.Nop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Run(runCtx) }()

	// Wait for the socket to come up.
	sock := SocketPath(roomDir)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		require.True(t, time.Now().Before(deadline), "hub socket never appeared")
		time.Sleep(10 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("hub did not shut down")
		}
		msgs.Close()
		global.Close()
	})
	return &testHub{roomDir: roomDir, msgs: msgs, global: global}
}

func (h *testHub) connect(t *testing.T, session string) *Client {
	t.Helper()
	c, err := Dial(h.roomDir)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	_, err = c.Register(session)
	require.NoError(t, err)
	return c
}

func TestRegisterReturnsRoster(t *testing.T) {
	h := startHub(t)

	a, err := Dial(h.roomDir)
	require.NoError(t, err)
	defer a.Close()

	roster, err := a.Register("alice")
	require.NoError(t, err)
	require.Contains(t, roster, "alice")

	b := h.connect(t, "bob")
	roster, err = b.Roster()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, roster)
}

func TestMentionRoutingAndDurableAppend(t *testing.T) {
	h := startHub(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	carol := h.connect(t, "carol")

	ack, err := alice.Send("", "TASK", "@bob check the build")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, ack.Routed)
	require.False(t, ack.Broadcast)
	require.Equal(t, int64(1), ack.Seq)

	f, err := bob.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "alice", f.From)
	require.Equal(t, "TASK", f.Type)
	require.Equal(t, "@bob check the build", f.Body)
	require.NotEmpty(t, f.ID)

	// Carol was not mentioned and gets nothing.
	_, err = carol.Recv(200 * time.Millisecond)
	require.ErrorIs(t, err, ErrRecvTimeout)

	// The hub appended durably before routing.
	count, err := h.msgs.MessageCount(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestAliasMentionRouting(t *testing.T) {
	h := startHub(t)
	require.NoError(t, h.global.SetAlias(context.Background(), "k8s", "session-42"))

	ops := h.connect(t, "ops")
	target := h.connect(t, "session-42")

	_, err := ops.Send("", "MSG", "@k8s restart the pods")
	require.NoError(t, err)

	f, err := target.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"session-42"}, f.Mentions)
}

func TestUnmentionedSendFansOut(t *testing.T) {
	h := startHub(t)
	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	carol := h.connect(t, "carol")

	ack, err := alice.Send("", "MSG", "morning everyone")
	require.NoError(t, err)
	require.True(t, ack.Broadcast)
	require.ElementsMatch(t, []string{"bob", "carol"}, ack.Routed)

	for _, c := range []*Client{bob, carol} {
		f, err := c.Recv(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, "morning everyone", f.Body)
	}

	// The sender does not receive its own broadcast.
	_, err = alice.Recv(200 * time.Millisecond)
	require.ErrorIs(t, err, ErrRecvTimeout)
}

func TestOneShotSendWithoutRegistration(t *testing.T) {
	h := startHub(t)
	bob := h.connect(t, "bob")

	c, err := Dial(h.roomDir)
	require.NoError(t, err)
	defer c.Close()

	ack, err := c.Send("cli", "MSG", "@bob drive-by")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, ack.Routed)

	f, err := bob.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "cli", f.From)

	count, err := h.msgs.MessageCount(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// Bob's live connection survived the one-shot send.
	roster, err := bob.Roster()
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, roster)
}

func TestNotifyRoutesWithoutAppending(t *testing.T) {
	h := startHub(t)
	bob := h.connect(t, "bob")

	msg, err := h.msgs.Append(context.Background(), "test", "alice", models.TypeMsg, "bob", "already stored")
	require.NoError(t, err)

	n := NewNotifier(h.roomDir)
	require.NoError(t, n.Notify(context.Background(), msg, nil))

	f, err := bob.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "already stored", f.Body)
	require.Equal(t, msg.Seq, f.Seq)

	// Notify never appends a second copy.
	count, err := h.msgs.MessageCount(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRecvTimeout(t *testing.T) {
	h := startHub(t)
	bob := h.connect(t, "bob")

	start := time.Now()
	_, err := bob.Recv(200 * time.Millisecond)
	require.ErrorIs(t, err, ErrRecvTimeout)
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestLastConnectWins(t *testing.T) {
	h := startHub(t)
	alice := h.connect(t, "alice")

	first, err := Dial(h.roomDir)
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Register("bob")
	require.NoError(t, err)

	second, err := Dial(h.roomDir)
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Register("bob")
	require.NoError(t, err)

	// Only one bob remains registered.
	roster, err := second.Roster()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, roster)

	_, err = alice.Send("", "MSG", "@bob you there?")
	require.NoError(t, err)

	f, err := second.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "@bob you there?", f.Body)

	// The replaced connection is dead.
	_, err = first.Recv(500 * time.Millisecond)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRecvTimeout))
}

func TestReplacementDuringInFlightSends(t *testing.T) {
	h := startHub(t)
	alice := h.connect(t, "alice")

	first, err := Dial(h.roomDir)
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Register("bob")
	require.NoError(t, err)

	// Keep the old connection's reader goroutine busy producing
	// replies while replacements tear it down.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if err := first.write(Frame{Op: OpSend, Body: fmt.Sprintf("burst %d", i)}); err != nil {
				// The replaced socket is closed under us; expected.
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		c, err := Dial(h.roomDir)
		require.NoError(t, err)
		_, err = c.Register("bob")
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, c.Close())
	}
	close(stop)
	wg.Wait()

	// The hub survived every replacement and still serves traffic.
	roster, err := alice.Roster()
	require.NoError(t, err)
	require.Contains(t, roster, "alice")

	count, err := h.msgs.MessageCount(context.Background(), "test")
	require.NoError(t, err)
	require.Greater(t, count, int64(0))
}

func TestSendRejectsEmptyBody(t *testing.T) {
	h := startHub(t)
	alice := h.connect(t, "alice")

	_, err := alice.Send("", "MSG", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no message")
}

func TestSendRejectsUnknownType(t *testing.T) {
	h := startHub(t)
	alice := h.connect(t, "alice")

	_, err := alice.Send("", "SHOUT", "hello")
	require.Error(t, err)
}

func TestPIDFileLifecycle(t *testing.T) {
	h := startHub(t)

	// The pid file lands just after the socket; allow it a moment.
	deadline := time.Now().Add(time.Second)
	for {
		pid, running := ReadPID(PIDPath(h.roomDir))
		if running {
			require.Equal(t, os.Getpid(), pid)
			return
		}
		require.True(t, time.Now().Before(deadline), "pid file never appeared")
		time.Sleep(10 * time.Millisecond)
	}
}
