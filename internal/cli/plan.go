package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubeforge-io/kubeforge/internal/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan [config]",
	Short: "Show the ordered provisioning plan",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context(), args)
	if err != nil {
		return err
	}

	plan, err := engine.BuildPlan(cfg.Resources)
	if err != nil {
		return err
	}

	fmt.Printf("Plan for %q: %d resources\n\n", cfg.Name, plan.Size())
	for i, d := range plan.Order() {
		fmt.Printf("  %2d. %s (%s via %s)", i+1, d.ID, d.Kind, d.Provider)
		if len(d.DependsOn) > 0 {
			fmt.Printf("  [after: %s]", strings.Join(d.DependsOn, ", "))
		}
		fmt.Println()
	}
	return nil
}
