package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var aliasDelete bool

var aliasCmd = &cobra.Command{
	Use:   "alias [name] [session]",
	Short: "List, set, or delete session aliases",
	Long: `With no arguments, lists all aliases. With one argument, maps the
name to the current session. With two, maps the name to the given
session. --delete removes the named alias.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runAlias,
}

func init() {
	aliasCmd.Flags().BoolVar(&aliasDelete, "delete", false, "delete the named alias")
	rootCmd.AddCommand(aliasCmd)
}

func runAlias(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if aliasDelete {
		if len(args) != 1 {
			return fmt.Errorf("alias --delete requires exactly one name")
		}
		existed, err := rt.global.DeleteAlias(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"status":  "deleted",
			"alias":   args[0],
			"existed": existed,
		})
	}

	if len(args) == 0 {
		aliases, err := rt.global.Aliases(ctx)
		if err != nil {
			return err
		}
		if aliases == nil {
			aliases = map[string]string{}
		}
		return printJSON(map[string]any{"aliases": aliases})
	}

	name := args[0]
	target := rt.bus.Session()
	if len(args) == 2 {
		target = args[1]
	}
	if err := rt.global.SetAlias(ctx, name, target); err != nil {
		return err
	}
	return printJSON(map[string]any{
		"status":  "set",
		"alias":   name,
		"session": target,
	})
}
