package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/plan"
	"github.com/releasegate/releasegate/internal/planner"
	"github.com/releasegate/releasegate/internal/problem"
)

var (
	decideCatalog string
	decideFeature string
	decidePlanOut string
)

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().StringVar(&decideCatalog, "catalog", "", "path to feature catalog YAML (required)")
	decideCmd.Flags().StringVar(&decideFeature, "feature", "", "feature id to decide (required)")
	decideCmd.Flags().StringVar(&decidePlanOut, "plan-out", "", "write the reproducible plan artifact to this path")
	decideCmd.MarkFlagRequired("catalog")
	decideCmd.MarkFlagRequired("feature")
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Score one feature and pick its boundary and granularity",
	Long: "Computes the risk scorecard for a catalog feature, searches the\n" +
		"boundary/granularity lattice under the policy thresholds, and prints the\n" +
		"decision as JSON. Infeasible features fall back to the most conservative\n" +
		"cell with feasible=false rather than failing.",
	RunE: runDecide,
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, policyHash, err := config.LoadWithHash(flagPolicy)
	if err != nil {
		return configProblem("POLICY_LOAD_FAILED", err)
	}
	th, err := cfg.PolicyThresholds()
	if err != nil {
		return configProblem("POLICY_INVALID", err)
	}

	cat, err := config.LoadCatalog(decideCatalog)
	if err != nil {
		return configProblem("CATALOG_LOAD_FAILED", err)
	}
	f := cat.Feature(decideFeature)
	if f == nil {
		return configProblem("FEATURE_NOT_FOUND", fmt.Errorf("feature not in catalog: %s", decideFeature))
	}

	dec := planner.Decide(f, th)

	if decidePlanOut != "" {
		art, err := plan.Build(policyHash, f, dec)
		if err != nil {
			return runtimeProblem("PLAN_BUILD_FAILED", err)
		}
		raw, err := art.Canonical()
		if err != nil {
			return runtimeProblem("PLAN_ENCODE_FAILED", err)
		}
		if err := os.WriteFile(decidePlanOut, raw, 0o644); err != nil {
			return problem.New("PLAN_WRITE_FAILED", problem.CategoryDependency, err.Error())
		}
	}

	out, err := json.MarshalIndent(dec, "", "  ")
	if err != nil {
		return runtimeProblem("DECISION_ENCODE_FAILED", err)
	}
	fmt.Println(string(out))
	return nil
}
