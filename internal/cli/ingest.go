package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/enforce"
	"github.com/releasegate/releasegate/internal/problem"
)

var (
	ingestFeature string
	ingestWindow  string
	ingestEvents  string
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestFeature, "feature", "", "feature id (required)")
	ingestCmd.Flags().StringVar(&ingestWindow, "window", "", "window id events belong to (required)")
	ingestCmd.Flags().StringVar(&ingestEvents, "events", "", "path to a JSON array of events (required)")
	ingestCmd.MarkFlagRequired("feature")
	ingestCmd.MarkFlagRequired("window")
	ingestCmd.MarkFlagRequired("events")
}

// ingestEvent is one raw event in the input file.
type ingestEvent struct {
	CellKey     string `json:"cell_key"`
	Clicks      int64  `json:"clicks"`
	Impressions int64  `json:"impressions"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Stage raw events under the feature's active contract",
	Long: "Validates each event and stages it keyed by the active contract's\n" +
		"granularity. Invalid events (negative counts, clicks above impressions)\n" +
		"are rejected and never staged; with no active contract every event is\n" +
		"rejected.",
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	raw, err := os.ReadFile(ingestEvents)
	if err != nil {
		return problem.New("EVENTS_READ_FAILED", problem.CategoryDependency, err.Error())
	}
	var events []ingestEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return configProblem("EVENTS_INVALID", err)
	}

	plane := enforce.New(env.Store, env.Log)
	accepted, rejected := 0, 0
	for _, ev := range events {
		res, err := plane.Ingest(ingestFeature, ingestWindow, ev.CellKey, ev.Clicks, ev.Impressions)
		if err != nil {
			return problem.New("INGEST_FAILED", problem.CategoryDependency, err.Error())
		}
		if res.Staged {
			accepted++
		} else {
			rejected++
		}
	}

	fmt.Printf(`{"accepted": %d, "rejected": %d}`+"\n", accepted, rejected)
	return nil
}
