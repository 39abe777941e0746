package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tokamaksim/internal/config"
)

// starterConfig runs a small disruption sweep on the builtin models.
const starterConfig = `workers: 4
drainOnStop: true

output:
  dir: ./output
  sqlite: ./output/manifest.db

retry:
  maxAttempts: 2
  backoffBase: 1s
  retryOn: [TRANSIENT, TIMEOUT]

pipeline:
  trigger:
    policy: first
    minTime: 0.05
    conditions:
      - name: current_drop
        kind: drop-fraction
        channel: ip
        threshold: 0.1
        window: 5
      - name: q_rise
        kind: above
        channel: q95
        threshold: 7.0
      - name: density_limit
        kind: above
        channel: ne
        limit: greenwald
        fraction: 0.95
  handoff:
    sourceGrid: grid
    targetGridPoints: 41
    fields:
      - target: ip
        source: ip
        min: 0
        maxLimit: ip_limit
      - target: ne
        source: ne
        min: 0
        maxLimit: greenwald
      - target: te
        source: te
        kind: profile
        min: 0
  combiner:
    scalarFill: hold-last
    profileFill: omit-and-flag
    maxSampleInterval: 0.05

stageA:
  timeout: 5m
  backend:
    type: phenom
  params:
    t_end: 1.0
    dt: 0.01

stageB:
  timeout: 5m
  backend:
    type: phenom
  params:
    t_end: 0.02
    dt: 0.0005

sweep:
  prefix: vde
  base:
    ip0: 1.0
    te0: 3.0
    minor_radius: 0.5
    major_radius: 1.65
  grid:
    disrupt_at: [0, 0.4, 0.6]
    re_fraction: [0.2, 0.4]

alerts:
  - type: console
`

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [project-dir]",
		Short: "Create a starter tokamaksim project",
		Long:  "Writes a tokamaksim.yaml running a small disruption sweep on the builtin phenomenological models.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], force, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing tokamaksim.yaml")
	return cmd
}

func runInit(dir string, force bool, w io.Writer) error {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Initializing tokamaksim project: %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, config.FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	color.New(color.FgGreen).Fprintln(w, "  ✓ tokamaksim.yaml written")

	fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "Next steps:")
	fmt.Fprintf(w, "  cd %s\n", dir)
	fmt.Fprintln(w, "  tokamaksim validate --list")
	fmt.Fprintln(w, "  tokamaksim detect vde-0003")
	fmt.Fprintln(w, "  tokamaksim generate")
	return nil
}
