package cmd

import (
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/courier/internal/bus"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show room status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all messages and cursors for the room",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session identity",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.bus.Status(cmd.Context(), rt.room)
	if err != nil {
		return err
	}
	return printJSON(struct {
		*bus.StatusResult
		Backend string `json:"backend"`
		Path    string `json:"path"`
	}{res, rt.cfg.Backend, rt.cfg.RoomDir(rt.room)})
}

func runClear(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.bus.Clear(cmd.Context(), rt.room); err != nil {
		return err
	}
	return printJSON(map[string]string{"status": "cleared", "room": rt.room})
}

func runWhoami(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	return printJSON(map[string]string{
		"session": rt.cfg.Session,
		"room":    rt.room,
		"backend": rt.cfg.Backend,
		"home":    rt.cfg.Home,
	})
}
