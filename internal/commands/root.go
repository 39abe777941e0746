package commands

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configDir string
	logFormat string
	logLevel  string
}

func (g *globals) logger(w io.Writer) (*slog.Logger, error) {
	return newLogger(w, g.logFormat, g.logLevel)
}

// NewRootCmd creates the tokamaksim root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "tokamaksim",
		Short: "Two-stage tokamak disruption simulation and dataset generation",
		Long: `tokamaksim runs a pre-disruption solver until a trigger fires, translates its
state into initial conditions for a post-disruption solver, and stitches both
runs into one unified signal per scenario. Batches of scenarios are recorded
in an append-only manifest for training-set generation.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configDir, "config", "c", ".", "directory containing tokamaksim.yaml")
	pf.StringVar(&g.logFormat, "log-format", "json", "log format: text or json")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		NewInitCmd(),
		NewValidateCmd(g),
		NewGenerateCmd(g),
		NewDetectCmd(g),
		NewInspectCmd(g),
	)
	return root
}
