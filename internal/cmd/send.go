package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/courier/internal/models"
)

var (
	sendType string
	sendTo   string
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to the room",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", "MSG", "message type (MSG|TASK|REPLY|STATUS|URGENT|ERROR|BROADCAST)")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient session or @alias")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	typ, err := models.ParseType(sendType)
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.bus.Send(cmd.Context(), rt.room, strings.Join(args, " "), typ, sendTo)
	if err != nil {
		return err
	}
	return printJSON(res)
}
