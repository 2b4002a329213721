package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the state store",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked resources",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the record of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("%-30s %-12s %-9s %s\n", "ID", "STATUS", "ATTEMPTS", "UPDATED")
	for _, rs := range records {
		fmt.Printf("%-30s %-12s %-9d %s\n",
			rs.ID, rs.Status, rs.Attempts, rs.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rs, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to read state for %s: %w", args[0], err)
	}

	fmt.Printf("id:         %s\n", rs.ID)
	fmt.Printf("status:     %s\n", rs.Status)
	fmt.Printf("attempts:   %d\n", rs.Attempts)
	fmt.Printf("updated at: %s\n", rs.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	if rs.LastError != "" {
		fmt.Printf("last error: %s\n", rs.LastError)
	}
	if rs.Status == ir.StatusFailed {
		fmt.Println("\nA re-run of apply will retry this resource.")
	}
	return nil
}
