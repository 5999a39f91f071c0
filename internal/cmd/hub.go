package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/courier/internal/config"
	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/models"
)

var (
	hubSendType    string
	hubRecvTimeout float64
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Manage and talk to the room's real-time hub",
}

var hubStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the hub process for this room (foreground)",
	Args:  cobra.NoArgs,
	RunE:  runHubStart,
}

var hubStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the room's hub process",
	Args:  cobra.NoArgs,
	RunE:  runHubStop,
}

var hubStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the hub is running and who is connected",
	Args:  cobra.NoArgs,
	RunE:  runHubStatus,
}

var hubConnectCmd = &cobra.Command{
	Use:   "connect [session]",
	Short: "Register with the hub and stream pushed deliveries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHubConnect,
}

var hubSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send through the hub, falling back to the durable store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHubSend,
}

var hubRecvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Block for one pushed delivery",
	Args:  cobra.NoArgs,
	RunE:  runHubRecv,
}

func init() {
	hubSendCmd.Flags().StringVar(&hubSendType, "type", string(models.TypeMsg), "message type")
	hubRecvCmd.Flags().Float64Var(&hubRecvTimeout, "timeout", 30, "seconds to wait for a delivery")

	hubCmd.AddCommand(hubStartCmd)
	hubCmd.AddCommand(hubStopCmd)
	hubCmd.AddCommand(hubStatusCmd)
	hubCmd.AddCommand(hubConnectCmd)
	hubCmd.AddCommand(hubSendCmd)
	hubCmd.AddCommand(hubRecvCmd)
	rootCmd.AddCommand(hubCmd)
}

func hubLogger(cfg *config.Config) zerolog.Logger {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDevelopment() {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log
}

func runHubStart(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := hub.NewServer(rt.room, rt.cfg.RoomDir(rt.room), rt.msgs, rt.global, hubLogger(rt.cfg))
	if rt.cfg.MetricsAddr != "" {
		srv.ServeHTTP(rt.cfg.MetricsAddr)
	}
	return srv.Run(ctx)
}

func runHubStop(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	roomDir := rt.cfg.RoomDir(rt.room)
	pid, running := hub.ReadPID(hub.PIDPath(roomDir))
	if !running {
		return fmt.Errorf("hub not running for room %q", rt.room)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop hub (pid %d): %w", pid, err)
	}
	return printJSON(map[string]any{
		"status": "stopped",
		"room":   rt.room,
		"pid":    pid,
	})
}

func runHubStatus(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	roomDir := rt.cfg.RoomDir(rt.room)
	pid, running := hub.ReadPID(hub.PIDPath(roomDir))
	out := map[string]any{
		"room":    rt.room,
		"running": running,
	}
	if !running {
		return printJSON(out)
	}
	out["pid"] = pid

	c, err := hub.Dial(roomDir)
	if err != nil {
		out["sessions"] = []string{}
		return printJSON(out)
	}
	defer c.Close()

	sessions, err := c.Roster()
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []string{}
	}
	out["sessions"] = sessions
	return printJSON(out)
}

func runHubConnect(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	session := rt.bus.Session()
	if len(args) == 1 {
		session = args[0]
	}

	c, err := hub.Dial(rt.cfg.RoomDir(rt.room))
	if err != nil {
		return err
	}
	defer c.Close()

	roster, err := c.Register(session)
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{
		"status":  "connected",
		"session": session,
		"room":    rt.room,
		"roster":  roster,
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	// One JSON object per delivery until interrupted or disconnected.
	for {
		f, err := c.Recv(time.Hour)
		if err != nil {
			if errors.Is(err, hub.ErrRecvTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := printJSON(f); err != nil {
			return err
		}
	}
}

func runHubSend(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	typ, err := models.ParseType(hubSendType)
	if err != nil {
		return err
	}
	body := strings.Join(args, " ")

	c, err := hub.Dial(rt.cfg.RoomDir(rt.room))
	if err != nil {
		// No hub: the durable path alone still delivers eventually.
		res, serr := rt.bus.Send(cmd.Context(), rt.room, body, typ, "")
		if serr != nil {
			return serr
		}
		return printJSON(map[string]any{
			"sent":     res.Sent,
			"session":  res.Session,
			"room":     res.Room,
			"type":     res.Type,
			"seq":      res.Seq,
			"fallback": "durable",
		})
	}
	defer c.Close()

	ack, err := c.Send(rt.bus.Session(), string(typ), body)
	if err != nil {
		return err
	}
	if ack.Routed == nil {
		ack.Routed = []string{}
	}
	return printJSON(map[string]any{
		"sent":      body,
		"session":   rt.bus.Session(),
		"room":      rt.room,
		"type":      string(typ),
		"id":        ack.ID,
		"seq":       ack.Seq,
		"routed":    ack.Routed,
		"broadcast": ack.Broadcast,
	})
}

func runHubRecv(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	c, err := hub.Dial(rt.cfg.RoomDir(rt.room))
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Register(rt.bus.Session()); err != nil {
		return err
	}

	timeout := time.Duration(hubRecvTimeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f, err := c.Recv(timeout)
	if err != nil {
		if errors.Is(err, hub.ErrRecvTimeout) {
			return printJSON(map[string]any{
				"timeout": true,
				"waited":  timeout.Seconds(),
			})
		}
		return err
	}
	return printJSON(f)
}
