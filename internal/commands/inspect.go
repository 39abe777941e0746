package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tokamaksim/internal/config"
	"github.com/dwsmith1983/tokamaksim/internal/store"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

type inspectOptions struct {
	batch    string
	failures bool
}

// NewInspectCmd creates the inspect command.
func NewInspectCmd(g *globals) *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect [manifest]",
		Short: "Summarize a run manifest by batch and outcome",
		Long: `Reads a JSONL manifest, or a SQLite manifest index when the path ends in .db
or .sqlite. Without a path the project's output manifest is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			} else {
				cfg, err := config.Load(g.configDir)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				path = manifestPath(cfg)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runInspect(ctx, path, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.batch, "batch", "b", "", "only this batch")
	cmd.Flags().BoolVar(&opts.failures, "failures", false, "list failed scenarios with their messages")
	return cmd
}

func runInspect(ctx context.Context, path string, opts inspectOptions, w io.Writer) error {
	if strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite") {
		return inspectSQLite(ctx, path, opts, w)
	}

	entries, err := store.ReadManifest(path)
	if err != nil {
		return err
	}
	var order []string
	byBatch := make(map[string][]types.ManifestEntry)
	for _, e := range entries {
		if opts.batch != "" && e.BatchID != opts.batch {
			continue
		}
		if _, ok := byBatch[e.BatchID]; !ok {
			order = append(order, e.BatchID)
		}
		byBatch[e.BatchID] = append(byBatch[e.BatchID], e)
	}
	if len(order) == 0 {
		fmt.Fprintln(w, "No manifest entries.")
		return nil
	}

	for _, id := range order {
		batch := byBatch[id]
		counts := make(map[types.Outcome]int)
		for _, e := range batch {
			counts[e.Outcome]++
		}
		printBatch(w, id, len(batch), counts)
		if opts.failures {
			printFailures(w, batch)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func inspectSQLite(ctx context.Context, path string, opts inspectOptions, w io.Writer) error {
	db, err := store.OpenSQLiteManifest(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	batches := []string{opts.batch}
	if opts.batch == "" {
		if batches, err = db.Batches(ctx); err != nil {
			return err
		}
	}
	if len(batches) == 0 {
		fmt.Fprintln(w, "No manifest entries.")
		return nil
	}

	for _, id := range batches {
		counts, err := db.CountByOutcome(ctx, id)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		printBatch(w, id, total, counts)
		if opts.failures {
			entries, err := db.Entries(ctx, id)
			if err != nil {
				return err
			}
			printFailures(w, entries)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printBatch(w io.Writer, id string, total int, counts map[types.Outcome]int) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Batch %s (%d scenarios)\n", id, total)
	printOutcomes(w, counts)
}

func printFailures(w io.Writer, entries []types.ManifestEntry) {
	for _, e := range entries {
		if e.Outcome == types.OutcomeCombined || e.Outcome == types.OutcomeNoTrigger {
			continue
		}
		msg := e.Message
		if e.FailureCategory != "" {
			msg = fmt.Sprintf("[%s] %s", e.FailureCategory, msg)
		}
		fmt.Fprintf(w, "    %s %s: %s\n", color.RedString("✗"), e.ScenarioID, msg)
	}
}
