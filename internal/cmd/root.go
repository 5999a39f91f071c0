// Package cmd wires the courier CLI. Every command prints exactly one
// JSON object on stdout; failures become {"error": "..."} with exit
// code 1.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/courier/internal/bus"
	"github.com/eldtechnologies/courier/internal/config"
	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/store"
)

var (
	flagDir     string
	flagGlobal  bool
	flagSession string
)

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Durable message bus for coordinating agent processes",
	Long: `courier lets independent agent processes exchange short, typed
messages through a shared durable mailbox scoped to rooms, with
per-session read cursors, @mention addressing and an optional
real-time hub for push delivery.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "room name or directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&flagGlobal, "global", "g", false, "use the global room")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "session identity override")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_ = printJSON(map[string]string{"error": err.Error()})
		os.Exit(1)
	}
}

// runtime bundles the per-invocation store handles. Opened at the top
// of each command, closed on exit; invocations share state only
// through the stores' own atomicity guarantees.
type runtime struct {
	cfg    *config.Config
	room   string
	msgs   store.MessageStore
	global store.GlobalStore
	bus    *bus.Bus
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.Load()
	if flagSession != "" {
		cfg.Session = flagSession
	}

	wd, _ := os.Getwd()
	room := config.ResolveRoom(flagDir, flagGlobal, wd)

	msgs, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	global, err := store.NewGlobalStore(ctx, cfg.Home)
	if err != nil {
		msgs.Close()
		return nil, fmt.Errorf("open global store: %w", err)
	}

	b := bus.New(cfg.Session, msgs, global).
		WithNotifier(hub.NewNotifier(cfg.RoomDir(room)))

	return &runtime{cfg: cfg, room: room, msgs: msgs, global: global, bus: b}, nil
}

func (r *runtime) close() {
	_ = r.msgs.Close()
	_ = r.global.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
