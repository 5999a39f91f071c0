package cmd

import (
	"github.com/spf13/cobra"
)

var pairCmd = &cobra.Command{
	Use:   "pair <room>",
	Short: "Pair this room with another for peer broadcast",
	Args:  cobra.ExactArgs(1),
	RunE:  runPair,
}

var unpairCmd = &cobra.Command{
	Use:   "unpair [room]",
	Short: "Remove one pairing, or all pairings of this room",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUnpair,
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List rooms paired with this one",
	Args:  cobra.NoArgs,
	RunE:  runPeers,
}

func init() {
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(unpairCmd)
	rootCmd.AddCommand(peersCmd)
}

func runPair(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if err := rt.global.Pair(ctx, rt.room, args[0]); err != nil {
		return err
	}
	peers, err := rt.global.Peers(ctx, rt.room)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"status": "paired",
		"room":   rt.room,
		"peer":   args[0],
		"peers":  peers,
	})
}

func runUnpair(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if len(args) == 1 {
		removed, err := rt.global.Unpair(ctx, rt.room, args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"status":  "unpaired",
			"room":    rt.room,
			"removed": args[0],
			"existed": removed,
		})
	}

	removed, err := rt.global.UnpairAll(ctx, rt.room)
	if err != nil {
		return err
	}
	if removed == nil {
		removed = []string{}
	}
	return printJSON(map[string]any{
		"status":  "unpaired_all",
		"room":    rt.room,
		"removed": removed,
	})
}

func runPeers(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	peers, err := rt.global.Peers(cmd.Context(), rt.room)
	if err != nil {
		return err
	}
	if peers == nil {
		peers = []string{}
	}
	return printJSON(map[string]any{"room": rt.room, "peers": peers})
}
