package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubeforge-io/kubeforge/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config]",
	Short: "Validate a configuration without provisioning",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context(), args)
	if err != nil {
		return err
	}

	registry := newRegistry()
	for _, d := range cfg.Resources {
		if d.Provider != "" && !registry.Has(d.Provider) {
			return fmt.Errorf("resource %s uses unknown provider %q", d.ID, d.Provider)
		}
	}

	if _, err := engine.BuildPlan(cfg.Resources); err != nil {
		return err
	}

	fmt.Printf("Configuration is valid: %d resources.\n", len(cfg.Resources))
	return nil
}
