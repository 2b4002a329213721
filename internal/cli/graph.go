package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubeforge-io/kubeforge/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [config]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  kubeforge graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context(), args)
	if err != nil {
		return err
	}

	plan, err := engine.BuildPlan(cfg.Resources)
	if err != nil {
		return err
	}

	fmt.Println("digraph kubeforge {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, d := range plan.Order() {
		fmt.Printf("  %q [label=%q];\n", d.ID, fmt.Sprintf("%s\\n%s", d.ID, d.Kind))
	}
	fmt.Println()

	for _, d := range plan.Order() {
		for _, dep := range d.DependsOn {
			fmt.Printf("  %q -> %q;\n", d.ID, dep)
		}
	}

	fmt.Println("}")
	return nil
}
