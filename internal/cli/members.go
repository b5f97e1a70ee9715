package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered team members",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <member-id>",
	Short: "Remove a team member and all of their photos",
	Long: `Remove a team member and every stored reference photo. Removing a member
that is not registered succeeds and cleans up any leftover photos.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(listCmd, removeCmd)
	listCmd.Flags().Bool("json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, _ []string) error {
	fa, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer fa.Close()

	members := fa.Manager.ListMembers()
	out := cmd.OutOrStdout()
	if mustGetBool(cmd, "json") {
		return writeJSON(out, members)
	}

	printMembers(out, members)
	if q := fa.Manager.Quarantined(); len(q) > 0 {
		fmt.Fprintf(out, "Quarantined entries (invalid metadata): %v\n", q)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	fa, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer fa.Close()

	return printResult(cmd.OutOrStdout(), fa.Manager.Remove(cmd.Context(), args[0]))
}
