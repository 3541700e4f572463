package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/enforce"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/problem"
)

var (
	matBoundary string
	matWindow   string
)

func init() {
	rootCmd.AddCommand(materializeCmd)
	materializeCmd.Flags().StringVar(&matBoundary, "boundary", string(model.BoundaryCentral), "boundary to materialize at")
	materializeCmd.Flags().StringVar(&matWindow, "window", "", "window id to materialize (required)")
	materializeCmd.MarkFlagRequired("window")
}

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Materialize staged events into noised feature cells",
	Long: "Aggregates staged events per feature, enforces minimum support (with a\n" +
		"single downgrade attempt to a coarser granularity before blocking), adds\n" +
		"Gaussian noise per the contract, and writes cells idempotently.",
	RunE: runMaterialize,
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	b := model.Boundary(matBoundary)
	if !b.Valid() {
		return configProblem("BOUNDARY_INVALID", fmt.Errorf("unknown boundary: %s", matBoundary))
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	plane := enforce.New(env.Store, env.Log)
	outcomes, err := plane.Materialize(b, matWindow)
	if err != nil {
		return problem.New("MATERIALIZE_FAILED", problem.CategoryDependency, err.Error())
	}

	out, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return runtimeProblem("ENCODE_FAILED", err)
	}
	fmt.Println(string(out))
	return nil
}
