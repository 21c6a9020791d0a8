package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fentz26/creatorloop/internal/controlplane"
)

var decideCmd = &cobra.Command{
	Use:   "decide [story-slug]",
	Short: "Run one decision cycle for a story",
	Long: `Runs the decision loop for a story: builds the policy, evaluates governance,
ranks the backlog, and plans runs for the selected actions. Use --dry-run to
preview a cycle without writing anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecide,
}

var (
	decideMode            string
	decideObjective       string
	decideSprintObjective string
	decideHorizon         int
	decideMaxActions      int
	decideCadence         int
	decideMerchCandidate  string
	decideOwners          map[string]string
	decideDryRun          bool
	decideNoPersist       bool
	decideForce           bool
	decideOutcomeAgent    bool
	decideApplyOutcomes   bool
	decideStaleHours      float64
	decideOutcomeMaxRuns  int
	decideJSON            bool
)

func init() {
	bindDecideFlags(decideCmd.Flags())
}

func bindDecideFlags(f *pflag.FlagSet) {
	f.StringVar(&decideMode, "mode", "", "Autonomy mode (manual, assist, auto)")
	f.StringVar(&decideObjective, "objective", "", "Policy objective (stabilize, balanced, growth)")
	f.StringVar(&decideSprintObjective, "sprint-objective", "", "Sprint objective for planned runs")
	f.IntVar(&decideHorizon, "horizon", 0, "Sprint horizon in days (3-30)")
	f.IntVar(&decideMaxActions, "max-actions", 0, "Actions per cycle (1-5)")
	f.IntVar(&decideCadence, "cadence", 0, "Cadence override in hours (1-72)")
	f.StringVar(&decideMerchCandidate, "merch-candidate", "", "Preferred merch candidate id")
	f.StringToStringVar(&decideOwners, "owner", nil, "Role owner override, role=user (repeatable)")
	f.BoolVar(&decideDryRun, "dry-run", false, "Compute the cycle without writing runs, records, or state")
	f.BoolVar(&decideNoPersist, "no-persist", false, "Do not create runs for executed actions")
	f.BoolVar(&decideForce, "force", false, "Execute even when governance pauses autorun")
	f.BoolVar(&decideOutcomeAgent, "outcome-agent", false, "Scan for stale open runs")
	f.BoolVar(&decideApplyOutcomes, "apply-outcomes", false, "Close the stale runs the outcome agent selects")
	f.Float64Var(&decideStaleHours, "stale-hours", 0, "Hours after which an open run is stale")
	f.IntVar(&decideOutcomeMaxRuns, "outcome-max-runs", 0, "Maximum runs the outcome agent closes")
	f.BoolVar(&decideJSON, "json", false, "Print the raw JSON response")
}

func buildDecideRequest(cmd *cobra.Command) controlplane.DecideRequest {
	req := controlplane.DecideRequest{
		Mode:             decideMode,
		Objective:        decideObjective,
		SprintObjective:  decideSprintObjective,
		HorizonDays:      decideHorizon,
		MaxActions:       decideMaxActions,
		CadenceHours:     decideCadence,
		MerchCandidateID: decideMerchCandidate,
		OwnerOverrides:   decideOwners,
		DryRun:           decideDryRun,
		Force:            decideForce,
	}
	if decideNoPersist {
		persist := false
		req.Persist = &persist
	}
	if decideOutcomeAgent || decideApplyOutcomes || cmd.Flags().Changed("stale-hours") || cmd.Flags().Changed("outcome-max-runs") {
		req.OutcomeAgent = &controlplane.OutcomeAgentRequest{
			Enabled:         true,
			Apply:           decideApplyOutcomes,
			StaleAfterHours: decideStaleHours,
			MaxRuns:         decideOutcomeMaxRuns,
		}
	}
	return req
}

func runDecide(cmd *cobra.Command, args []string) error {
	req := buildDecideRequest(cmd)

	body, err := apiDo(http.MethodPost, "/stories/"+args[0]+"/decide", req)
	if err != nil {
		return err
	}
	if decideJSON {
		_, err := os.Stdout.Write(append(body, '\n'))
		return err
	}

	var resp controlplane.DecideResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	renderDecision(cmd.OutOrStdout(), &resp)
	return nil
}
