package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/planner"
	"github.com/releasegate/releasegate/internal/watch"
)

var watchCatalog string

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchCatalog, "catalog", "", "path to feature catalog YAML (required)")
	watchCmd.MarkFlagRequired("catalog")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-decide the catalog whenever the policy or catalog file changes",
	Long: "Watches the policy and catalog files and, after each settled change,\n" +
		"reloads both and prints one decision line per feature. Load or validation\n" +
		"failures leave the previous decisions standing. Blocks until interrupted.",
	RunE: runWatch,
}

func decideAll() error {
	cfg, hash, err := config.LoadWithHash(flagPolicy)
	if err != nil {
		return err
	}
	th, err := cfg.PolicyThresholds()
	if err != nil {
		return err
	}
	cat, err := config.LoadCatalog(watchCatalog)
	if err != nil {
		return err
	}

	fmt.Printf("policy %s: %d feature(s)\n", hash[:12], len(cat.Features))
	for i := range cat.Features {
		f := &cat.Features[i]
		dec := planner.Decide(f, th)
		status := "feasible"
		if !dec.Feasible {
			status = "infeasible"
		}
		fmt.Printf("  %-30s %s/%s %s %s\n",
			f.FeatureID, dec.Boundary, dec.Granularity, status, dec.Reason)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := decideAll(); err != nil {
		return configProblem("INITIAL_DECIDE_FAILED", err)
	}

	r, err := watch.New(decideAll, flagPolicy, watchCatalog)
	if err != nil {
		return runtimeProblem("WATCH_SETUP_FAILED", err)
	}
	fmt.Printf("watching: %s\n", strings.Join(r.Paths(), ", "))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx)
}
