package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var broadcastAllPeers bool

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <message>",
	Short: "Broadcast a message to the room, or to every paired peer room",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBroadcast,
}

func init() {
	broadcastCmd.Flags().BoolVar(&broadcastAllPeers, "all-peers", false, "fan out to every paired peer room")
	rootCmd.AddCommand(broadcastCmd)
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.bus.Broadcast(cmd.Context(), rt.room, strings.Join(args, " "), broadcastAllPeers)
	if err != nil {
		return err
	}
	return printJSON(res)
}
