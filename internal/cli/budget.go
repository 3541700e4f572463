package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/ledger"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/problem"
)

var (
	budgetFeature string
	budgetAsof    string
	budgetDay     string
	budgetEps     float64
	budgetDelta   float64
	budgetLeft    int
)

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetSpendCmd)
	budgetCmd.AddCommand(budgetStatusCmd)

	budgetCmd.PersistentFlags().StringVar(&budgetFeature, "feature", "", "feature id (required)")
	budgetCmd.PersistentFlags().StringVar(&budgetAsof, "asof", "", "window end day YYYY-MM-DD (default today)")
	budgetCmd.MarkPersistentFlagRequired("feature")

	budgetSpendCmd.Flags().StringVar(&budgetDay, "day", "", "spend day YYYY-MM-DD (default today)")
	budgetSpendCmd.Flags().Float64Var(&budgetEps, "eps", 0, "epsilon to spend (required)")
	budgetSpendCmd.Flags().Float64Var(&budgetDelta, "delta", 0, "delta to spend")
	budgetSpendCmd.MarkFlagRequired("eps")

	budgetStatusCmd.Flags().IntVar(&budgetLeft, "releases-left", 0, "planned releases left in the window, for adaptive epsilon")
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage the per-feature differential privacy budget",
	Long: "Spend is accounted by sequential composition over a sliding window of\n" +
		"days. A spend that would push the windowed total past the policy caps is\n" +
		"denied and nothing is committed.",
}

func budgetAsofTime() (time.Time, error) {
	if budgetAsof == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(ledger.DayFormat, budgetAsof)
}

var budgetSpendCmd = &cobra.Command{
	Use:   "spend",
	Short: "Attempt a budget spend, committing only if the caps allow it",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		asof, err := budgetAsofTime()
		if err != nil {
			return configProblem("ASOF_INVALID", err)
		}
		day := budgetDay
		if day == "" {
			day = asof.Format(ledger.DayFormat)
		}

		l := ledger.New(env.Store)
		ev := model.SpendEvent{FeatureID: budgetFeature, Day: day, Epsilon: budgetEps, Delta: budgetDelta}
		ok, err := l.TrySpend(ev, env.Config.DP.WindowDays, asof, env.Config.DP.EpsCap, env.Config.DP.DeltaCap)
		if err != nil {
			return problem.New("BUDGET_SPEND_FAILED", problem.CategoryDependency, err.Error())
		}

		details := map[string]any{"day": day, "eps": budgetEps, "delta": budgetDelta}
		if !ok {
			if err := env.Log.Event(audit.EventBudgetDenied, budgetFeature, details); err != nil {
				return problem.New("AUDIT_WRITE_FAILED", problem.CategoryDependency, err.Error())
			}
			return problem.New("BUDGET_EXCEEDED", problem.CategoryPolicy,
				fmt.Sprintf("spend of eps=%g would exceed the windowed cap", budgetEps)).
				WithRemediation("wait for older spend to fall out of the window or lower the request")
		}
		if err := env.Log.Event(audit.EventBudgetCommit, budgetFeature, details); err != nil {
			return problem.New("AUDIT_WRITE_FAILED", problem.CategoryDependency, err.Error())
		}
		fmt.Println(`{"status": "committed"}`)
		return nil
	},
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show windowed spend, remaining budget, and adaptive epsilon",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		asof, err := budgetAsofTime()
		if err != nil {
			return configProblem("ASOF_INVALID", err)
		}

		l := ledger.New(env.Store)
		eps, delta, err := l.WindowSpend(budgetFeature, env.Config.DP.WindowDays, asof)
		if err != nil {
			return problem.New("BUDGET_READ_FAILED", problem.CategoryDependency, err.Error())
		}

		status := map[string]any{
			"feature_id":  budgetFeature,
			"window_days": env.Config.DP.WindowDays,
			"asof":        asof.Format(ledger.DayFormat),
			"eps_spent":   eps,
			"delta_spent": delta,
			"eps_cap":     env.Config.DP.EpsCap,
			"delta_cap":   env.Config.DP.DeltaCap,
			"eps_left":    max(0, env.Config.DP.EpsCap-eps),
		}
		if budgetLeft > 0 {
			adaptive, err := l.AdaptiveEps(budgetFeature, env.Config.DP.WindowDays, asof, env.Config.DP.EpsCap, budgetLeft)
			if err != nil {
				return problem.New("BUDGET_READ_FAILED", problem.CategoryDependency, err.Error())
			}
			status["adaptive_eps"] = adaptive
		}

		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return runtimeProblem("ENCODE_FAILED", err)
		}
		fmt.Println(string(out))
		return nil
	},
}
