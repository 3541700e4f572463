package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/planner"
)

var (
	cfCatalog string
	cfFeature string
	cfTarget  string
)

func init() {
	rootCmd.AddCommand(counterfactualCmd)
	counterfactualCmd.Flags().StringVar(&cfCatalog, "catalog", "", "path to feature catalog YAML (required)")
	counterfactualCmd.Flags().StringVar(&cfFeature, "feature", "", "feature id (required)")
	counterfactualCmd.Flags().StringVar(&cfTarget, "target-granularity", string(model.GranularityItem), "granularity to evaluate edits at")
	counterfactualCmd.MarkFlagRequired("catalog")
	counterfactualCmd.MarkFlagRequired("feature")
}

var counterfactualCmd = &cobra.Command{
	Use:   "counterfactual",
	Short: "Suggest single-field edits that would lower a feature's risk",
	Long: "Evaluates one-edit variants of a feature spec (coarser buckets, dropped\n" +
		"identifier or sensitive fields) and reports each variant's risk and whether\n" +
		"it becomes feasible at the target granularity. Feasible candidates sort first.",
	RunE: runCounterfactual,
}

func runCounterfactual(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.LoadWithHash(flagPolicy)
	if err != nil {
		return configProblem("POLICY_LOAD_FAILED", err)
	}
	th, err := cfg.PolicyThresholds()
	if err != nil {
		return configProblem("POLICY_INVALID", err)
	}
	cat, err := config.LoadCatalog(cfCatalog)
	if err != nil {
		return configProblem("CATALOG_LOAD_FAILED", err)
	}
	f := cat.Feature(cfFeature)
	if f == nil {
		return configProblem("FEATURE_NOT_FOUND", fmt.Errorf("feature not in catalog: %s", cfFeature))
	}
	g := model.Granularity(cfTarget)
	if !g.Valid() {
		return configProblem("GRANULARITY_INVALID", fmt.Errorf("unknown granularity: %s", cfTarget))
	}

	cands := planner.Counterfactuals(f, th, g)
	out, err := json.MarshalIndent(cands, "", "  ")
	if err != nil {
		return runtimeProblem("ENCODE_FAILED", err)
	}
	fmt.Println(string(out))
	return nil
}
