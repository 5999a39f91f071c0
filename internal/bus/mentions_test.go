package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, store.GlobalStore) {
	t.Helper()
	global, err := store.NewGlobalStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { global.Close() })
	return NewResolver(global), global
}

func TestMentions(t *testing.T) {
	cases := []struct {
		body string
		want []string
	}{
		{"no mentions here", nil},
		{"hey @bob can you look", []string{"bob"}},
		{"@bob @alice sync up", []string{"bob", "alice"}},
		{"@bob,@alice comma group", []string{"bob", "alice"}},
		{"@bob twice @bob", []string{"bob"}},
		{"@all hands", []string{"all"}},
		{"path id @proj/feature-2 works", []string{"proj/feature-2"}},
		{"mail me at dev@example.com", []string{"example.com"}},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Mentions(c.body), "body=%q", c.body)
	}
}

func TestResolveTarget(t *testing.T) {
	r, global := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, global.SetAlias(ctx, "k8s", "session-42"))

	got, err := r.ResolveTarget(ctx, "@k8s")
	require.NoError(t, err)
	require.Equal(t, "session-42", got)

	// Unknown names pass through untouched.
	got, err = r.ResolveTarget(ctx, "stranger")
	require.NoError(t, err)
	require.Equal(t, "stranger", got)

	// Broadcast markers never resolve.
	got, err = r.ResolveTarget(ctx, "@all")
	require.NoError(t, err)
	require.Equal(t, "all", got)
}

func TestForMe(t *testing.T) {
	r, global := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, global.SetAlias(ctx, "k8s", "session-42"))

	cases := []struct {
		name    string
		msg     models.Message
		session string
		want    bool
	}{
		{"explicit recipient match", models.Message{Recipient: "session-42"}, "session-42", true},
		{"explicit recipient miss", models.Message{Recipient: "other"}, "session-42", false},
		{"recipient list", models.Message{Recipient: "a,session-42"}, "session-42", true},
		{"recipient wins over body", models.Message{Recipient: "other", Body: "@session-42 hi"}, "session-42", false},
		{"alias mention resolves to me", models.Message{Body: "hey @k8s look"}, "session-42", true},
		{"mention of someone else", models.Message{Body: "hey @bob look"}, "session-42", false},
		{"no addressing at all", models.Message{Body: "ambient chatter"}, "session-42", true},
		{"broadcast mention", models.Message{Body: "@all heads up"}, "session-42", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := r.ForMe(ctx, &c.msg, c.session)
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}
