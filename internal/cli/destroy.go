package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubeforge-io/kubeforge/internal/engine"
	"github.com/kubeforge-io/kubeforge/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [config]",
	Short: "Tear down the configured resources",
	Long: `Destroys every tracked resource in reverse dependency order. Teardown
is best-effort: a resource that fails to destroy is recorded and the run
continues with the rest.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx, args)
	if err != nil {
		return err
	}

	registry := newRegistry()
	if err := provider.BindActions(cfg.Resources, registry); err != nil {
		return err
	}

	plan, err := engine.BuildPlan(cfg.Resources)
	if err != nil {
		return err
	}

	fmt.Printf("Destroy plan: %d resources\n", plan.Size())
	for _, d := range plan.Reverse() {
		fmt.Printf("  - %s (%s via %s)\n", d.ID, d.Kind, d.Provider)
	}

	if !confirm("\nDestroy these resources?", destroyAutoApprove) {
		fmt.Println("Destroy cancelled.")
		return nil
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	report, err := engine.New().Destroy(ctx, plan, store)
	if err != nil {
		return fmt.Errorf("destroy failed: %w", err)
	}

	renderReport(report)
	return outcomeErr(report)
}
