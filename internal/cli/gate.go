package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/gate"
	"github.com/releasegate/releasegate/internal/problem"
)

var (
	gatePayload   string
	gateThreshold float64
	gateAdvisory  bool
)

func init() {
	rootCmd.AddCommand(gateCmd)
	gateCmd.Flags().StringVar(&gatePayload, "payload", "", "path to the release payload JSON (required)")
	gateCmd.Flags().Float64Var(&gateThreshold, "threshold-override", -1, "evaluate against this threshold instead of the policy's (policy hash is unchanged)")
	gateCmd.Flags().BoolVar(&gateAdvisory, "advisory", false, "report violations without rejecting")
	gateCmd.MarkFlagRequired("payload")
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Fail-closed release gate for CI",
	Long: "Scores the payload's feature spec against the policy threshold and prints\n" +
		"a deterministic verdict. Exit 0 on ALLOW, 2 on REJECT. Any scoring error\n" +
		"or panic rejects with EVALUATION_ERROR; the gate never fails open.",
	RunE: runGate,
}

func runGate(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.LoadWithHash(flagPolicy)
	if err != nil {
		return configProblem("POLICY_LOAD_FAILED", err)
	}
	var policyBytes []byte
	if flagPolicy != "" {
		policyBytes, err = os.ReadFile(flagPolicy)
		if err != nil {
			return problem.New("POLICY_READ_FAILED", problem.CategoryDependency, err.Error())
		}
	}

	raw, err := os.ReadFile(gatePayload)
	if err != nil {
		return problem.New("PAYLOAD_READ_FAILED", problem.CategoryDependency, err.Error())
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return configProblem("PAYLOAD_INVALID", err)
	}

	in := gate.Input{
		PolicyPath:      flagPolicy,
		PolicyBytes:     policyBytes,
		PolicyThreshold: cfg.Gate.LPSMax,
		HardReject:      cfg.Gate.RejectOnViolation && !gateAdvisory,
		Payload:         payload,
		Score:           gate.PayloadScore,
	}
	if gateThreshold >= 0 {
		t := gateThreshold
		in.ThresholdOverride = &t
	}

	v := gate.Evaluate(in)
	out, err := v.JSON()
	if err != nil {
		return runtimeProblem("VERDICT_ENCODE_FAILED", err)
	}
	fmt.Println(out)
	os.Exit(v.ExitCode)
	return nil
}
