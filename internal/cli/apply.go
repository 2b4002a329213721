package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubeforge-io/kubeforge/internal/engine"
	"github.com/kubeforge-io/kubeforge/internal/provider"
)

var applyAutoApprove bool

var applyCmd = &cobra.Command{
	Use:   "apply [config]",
	Short: "Provision the configured resources",
	Long: `Builds the dependency plan and provisions every resource in order.
The run halts at the first resource that fails permanently; resources already
applied stay applied and a re-run picks up where it stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval before applying")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Plan: %d resources\n", plan.Size())
	for _, d := range plan.Order() {
		fmt.Printf("  + %s (%s via %s)\n", d.ID, d.Kind, d.Provider)
	}

	if !confirm("\nApply these resources?", applyAutoApprove) {
		fmt.Println("Apply cancelled.")
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

	broker, err := newBroker(ctx)
	if err != nil {
		return err
	}

	report, err := engine.New().Apply(ctx, plan, store, broker)
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}

	renderReport(report)
	return outcomeErr(report)
}
