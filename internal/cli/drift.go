package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/drift"
	"github.com/releasegate/releasegate/internal/problem"
)

var driftFeature string

func init() {
	rootCmd.AddCommand(driftCmd)
	driftCmd.Flags().StringVar(&driftFeature, "feature", "", "feature id (required)")
	driftCmd.MarkFlagRequired("feature")
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Check a feature's risk drift against the policy tolerance",
	Long: "Compares the feature's two most recent scorecards; a risk delta beyond\n" +
		"the policy's tau flags the feature for re-decision and is audited.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		mon := drift.New(env.Store, env.Log, env.Config.TauLPS)
		res, err := mon.Check(driftFeature)
		if err != nil {
			return problem.New("DRIFT_CHECK_FAILED", problem.CategoryDependency, err.Error())
		}
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return runtimeProblem("ENCODE_FAILED", err)
		}
		fmt.Println(string(out))
		return nil
	},
}
