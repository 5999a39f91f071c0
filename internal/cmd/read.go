package cmd

import (
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/courier/internal/bus"
	"github.com/eldtechnologies/courier/internal/models"
)

var (
	readAll    bool
	readLimit  int
	readFilter string
	readForMe  bool
	readQuiet  bool

	checkForMe bool
	checkQuiet bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read unread messages and advance the cursor",
	Args:  cobra.NoArgs,
	RunE:  runRead,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Catch up on everything unread",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	readCmd.Flags().BoolVar(&readAll, "all", false, "peek at the full history without moving the cursor")
	readCmd.Flags().IntVar(&readLimit, "limit", 0, "maximum messages to return")
	readCmd.Flags().StringVar(&readFilter, "filter", "", "restrict to one message type")
	readCmd.Flags().BoolVar(&readForMe, "for-me", false, "only messages addressed to this session")
	readCmd.Flags().BoolVarP(&readQuiet, "quiet", "q", false, "print nothing when there are no messages")
	rootCmd.AddCommand(readCmd)

	checkCmd.Flags().BoolVar(&checkForMe, "for-me", false, "only messages addressed to this session")
	checkCmd.Flags().BoolVarP(&checkQuiet, "quiet", "q", false, "print nothing when there is nothing unread")
	rootCmd.AddCommand(checkCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	var filter models.Type
	if readFilter != "" {
		parsed, err := models.ParseType(readFilter)
		if err != nil {
			return err
		}
		filter = parsed
	}

	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.bus.Read(cmd.Context(), rt.room, bus.ReadOptions{
		All:    readAll,
		Limit:  readLimit,
		Filter: filter,
		ForMe:  readForMe,
	})
	if err != nil {
		return err
	}
	if readQuiet && res.NewCount == 0 {
		return nil
	}
	return printJSON(res)
}

func runCheck(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.bus.Read(cmd.Context(), rt.room, bus.ReadOptions{ForMe: checkForMe})
	if err != nil {
		return err
	}
	if checkQuiet && res.NewCount == 0 {
		return nil
	}
	return printJSON(res)
}
