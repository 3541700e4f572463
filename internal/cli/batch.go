package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/control"
	"github.com/releasegate/releasegate/internal/problem"
)

var (
	batchCatalog string
	batchWindow  string
)

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVar(&batchCatalog, "catalog", "", "path to feature catalog YAML (required)")
	batchCmd.Flags().StringVar(&batchWindow, "window", "", "stats window id used for variance-based selection (required)")
	batchCmd.MarkFlagRequired("catalog")
	batchCmd.MarkFlagRequired("window")
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the full pipeline over a catalog: score, select, issue",
	Long: "Upserts the catalog into the state database, scores every feature,\n" +
		"runs granularity selection against stored stats, and issues runtime\n" +
		"contracts. A failure on one feature is reported and does not stop the\n" +
		"batch; the exit code is non-zero if any feature failed.",
	RunE: runBatch,
}

// batchReport is the JSON summary printed after a batch run.
type batchReport struct {
	Status  string              `json:"status"`
	Scoring control.BatchResult `json:"scoring"`
	Select  control.BatchResult `json:"selection"`
	Issue   control.BatchResult `json:"issuance"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	th, err := env.Config.PolicyThresholds()
	if err != nil {
		return configProblem("POLICY_INVALID", err)
	}
	cat, err := config.LoadCatalog(batchCatalog)
	if err != nil {
		return configProblem("CATALOG_LOAD_FAILED", err)
	}

	ctl := control.New(env.Store, env.Log, env.Config, th)
	if err := ctl.UpsertFeatures(cat.Features); err != nil {
		return problem.New("CATALOG_UPSERT_FAILED", problem.CategoryDependency, err.Error())
	}

	ids := make([]string, 0, len(cat.Features))
	for i := range cat.Features {
		ids = append(ids, cat.Features[i].FeatureID)
	}

	rep := batchReport{
		Scoring: ctl.ScoreBatch(ids, batchWindow, env.PolicyHash),
		Select:  ctl.SelectBatch(ids, batchWindow),
		Issue:   ctl.IssueBatch(ids),
	}
	rep.Status = "ok"
	nerr := len(rep.Scoring.Errors) + len(rep.Select.Errors) + len(rep.Issue.Errors)
	if nerr > 0 {
		rep.Status = "partial"
	}

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return runtimeProblem("ENCODE_FAILED", err)
	}
	fmt.Println(string(out))

	if nerr > 0 {
		return problem.New("BATCH_PARTIAL_FAILURE", problem.CategoryRuntime,
			fmt.Sprintf("%d feature(s) failed", nerr))
	}
	return nil
}
