package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(g *globals) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check tokamaksim.yaml and report the scenarios it expands to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(g, list, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "print every scenario id")
	return cmd
}

func runValidate(g *globals, list bool, w io.Writer) error {
	cfg, scenarios, err := loadProject(g.configDir)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintln(w, "Configuration is valid")
	fmt.Fprintf(w, "  Scenarios:  %d\n", len(scenarios))
	fmt.Fprintf(w, "  Workers:    %d\n", cfg.Workers)
	fmt.Fprintf(w, "  Conditions: %d\n", len(cfg.Pipeline.Trigger.Conditions))
	fmt.Fprintf(w, "  Handoff:    %d fields\n", len(cfg.Pipeline.Handoff.Fields))
	fmt.Fprintf(w, "  Output:     %s\n", cfg.Output.Dir)

	if list {
		fmt.Fprintln(w)
		for _, sc := range scenarios {
			fmt.Fprintf(w, "  %s\n", sc.ID)
		}
	}
	return nil
}
