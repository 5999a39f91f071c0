package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/courier/internal/bus"
)

var waitInterval float64

var waitCmd = &cobra.Command{
	Use:   "wait [timeout]",
	Short: "Block until a new message arrives or the timeout passes",
	Long: `Polls for unread messages until one arrives or the timeout (seconds,
default 30, capped at 300) elapses. A timeout is a normal outcome
reported as {"timeout": true}, not an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWait,
}

func init() {
	waitCmd.Flags().Float64Var(&waitInterval, "interval", 1.0, "poll interval in seconds")
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
	timeout := bus.DefaultWaitTimeout
	if len(args) == 1 {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		timeout = time.Duration(secs * float64(time.Second))
	}

	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.bus.Wait(cmd.Context(), rt.room, timeout, time.Duration(waitInterval*float64(time.Second)))
	if err != nil {
		return err
	}
	return printJSON(res)
}
