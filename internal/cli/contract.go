package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/contract"
	"github.com/releasegate/releasegate/internal/problem"
)

var (
	contractFeature string
)

func init() {
	rootCmd.AddCommand(contractCmd)
	contractCmd.AddCommand(contractShowCmd)
	contractCmd.AddCommand(contractIssueCmd)
	contractCmd.AddCommand(contractVersionsCmd)

	contractCmd.PersistentFlags().StringVar(&contractFeature, "feature", "", "feature id (required)")
	contractCmd.MarkPersistentFlagRequired("feature")
}

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Inspect and issue runtime contracts",
}

var contractShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active contract for a feature",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Store.ActiveContract(contractFeature)
		if err != nil {
			return problem.New("CONTRACT_READ_FAILED", problem.CategoryDependency, err.Error())
		}
		if c == nil {
			return problem.New("NO_ACTIVE_CONTRACT", problem.CategoryPolicy,
				fmt.Sprintf("no active contract for feature: %s", contractFeature)).
				WithRemediation("run `releasegate batch` or `releasegate contract issue` first")
		}
		out, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return runtimeProblem("ENCODE_FAILED", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

var contractIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a contract from the feature's latest routing decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		rd, err := env.Store.LatestRoutingDecision(contractFeature)
		if err != nil {
			return problem.New("ROUTING_READ_FAILED", problem.CategoryDependency, err.Error())
		}
		if rd == nil {
			return problem.New("NO_ROUTING_DECISION", problem.CategoryPolicy,
				fmt.Sprintf("no routing decision for feature: %s", contractFeature)).
				WithRemediation("run `releasegate batch` to produce a routing decision")
		}

		mgr := contract.New(env.Store, env.Log)
		c, err := mgr.IssueFromRouting(rd)
		if err != nil {
			return problem.New("CONTRACT_ISSUE_FAILED", problem.CategoryDependency, err.Error())
		}
		out, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return runtimeProblem("ENCODE_FAILED", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

var contractVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List all contract versions recorded for a feature",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		versions, err := env.Store.ContractVersions(contractFeature)
		if err != nil {
			return problem.New("CONTRACT_READ_FAILED", problem.CategoryDependency, err.Error())
		}
		for _, v := range versions {
			marker := " "
			if v.Active {
				marker = "*"
			}
			fmt.Printf("%s %s  boundary=%s granularity=%s\n", marker, v.ContractVersion, v.Boundary, v.Granularity)
		}
		return nil
	},
}
