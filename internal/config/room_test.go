package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRoom(t *testing.T) {
	cases := []struct {
		name    string
		dirFlag string
		global  bool
		workdir string
		want    string
	}{
		{"global flag wins", "myproj", true, "/home/dev/myproj", "global"},
		{"bare dir flag is the room", "payments", false, "/home/dev/other", "payments"},
		{"dir flag path reduces to base", "/home/dev/payments", false, "/tmp", "payments"},
		{"relative path reduces to base", "work/payments", false, "/tmp", "payments"},
		{"workdir base by default", "", false, "/home/dev/frontend", "frontend"},
		{"root workdir falls back to global", "", false, "/", "global"},
		{"empty everything falls back to global", "", false, "", "global"},
		{"unsafe characters are replaced", "my proj!", false, "", "my-proj-"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, ResolveRoom(c.dirFlag, c.global, c.workdir))
		})
	}
}

func TestRoomDir(t *testing.T) {
	cfg := &Config{Home: "/data/courier"}
	require.Equal(t, "/data/courier/rooms/alpha", cfg.RoomDir("alpha"))
}
