package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/creatorloop/internal/controlplane"
	"github.com/fentz26/creatorloop/internal/models"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage story runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list [story-slug]",
	Short: "List runs for a story",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show run details",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsCreateCmd = &cobra.Command{
	Use:   "create [story-slug]",
	Short: "Create a run manually or from a recommendation",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsCreate,
}

var runsStartCmd = &cobra.Command{
	Use:   "start [run-id]",
	Short: "Mark a run as in progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsStart,
}

var runsCloseCmd = &cobra.Command{
	Use:   "close [run-id]",
	Short: "Close a run with an outcome decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsClose,
}

var (
	runsLimit          int
	runRecommendation  string
	runSprintObjective string
	runHorizon         int
	runMerchCandidate  string
	runMode            string
	runNotes           string
	runOwners          map[string]string
	runDecision        string
	runMetricsFile     string
)

func init() {
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsCreateCmd, runsStartCmd, runsCloseCmd)

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")

	runsCreateCmd.Flags().StringVar(&runRecommendation, "recommendation", "", "Automation recommendation id to execute")
	runsCreateCmd.Flags().StringVar(&runSprintObjective, "sprint-objective", "", "Sprint objective (required without --recommendation)")
	runsCreateCmd.Flags().IntVar(&runHorizon, "horizon", 0, "Sprint horizon in days")
	runsCreateCmd.Flags().StringVar(&runMerchCandidate, "merch-candidate", "", "Merch candidate id")
	runsCreateCmd.Flags().StringVar(&runMode, "mode", "", "Autonomy mode recorded on the plan")
	runsCreateCmd.Flags().StringVar(&runNotes, "notes", "", "Plan notes")
	runsCreateCmd.Flags().StringToStringVar(&runOwners, "owner", nil, "Role owner override, role=user (repeatable)")

	runsCloseCmd.Flags().StringVar(&runDecision, "decision", "", "Outcome decision (scale, iterate, hold, archive)")
	runsCloseCmd.Flags().StringVar(&runNotes, "notes", "", "Outcome notes")
	runsCloseCmd.Flags().StringVar(&runMetricsFile, "metrics", "", "YAML or JSON file with the outcome metrics snapshot")
	runsCloseCmd.MarkFlagRequired("decision")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	var runs []models.Run
	if err := apiCall(http.MethodGet, "/stories/"+args[0]+"/runs?limit="+strconv.Itoa(runsLimit), nil, &runs); err != nil {
		return err
	}
	renderRuns(cmd.OutOrStdout(), runs)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	var run models.Run
	if err := apiCall(http.MethodGet, "/runs/"+args[0], nil, &run); err != nil {
		return err
	}
	renderRun(cmd.OutOrStdout(), &run)
	return nil
}

func runRunsCreate(cmd *cobra.Command, args []string) error {
	req := controlplane.CreateRunRequest{
		RecommendationID: runRecommendation,
		SprintObjective:  runSprintObjective,
		HorizonDays:      runHorizon,
		OwnerOverrides:   runOwners,
		MerchCandidateID: runMerchCandidate,
		Mode:             runMode,
		Notes:            runNotes,
	}
	var run models.Run
	if err := apiCall(http.MethodPost, "/stories/"+args[0]+"/runs", req, &run); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created run: %s (%s, %d days)\n", run.ID, run.SprintObjective, run.HorizonDays)
	return nil
}

func runRunsStart(cmd *cobra.Command, args []string) error {
	if err := apiCall(http.MethodPost, "/runs/"+args[0]+"/start", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started run %s\n", args[0])
	return nil
}

func runRunsClose(cmd *cobra.Command, args []string) error {
	req := controlplane.CloseRunRequest{
		Decision: models.OutcomeDecision(runDecision),
		Notes:    runNotes,
	}
	if runMetricsFile != "" {
		metrics, err := readMetricsFile(runMetricsFile)
		if err != nil {
			return err
		}
		req.Metrics = metrics
	}

	var run models.Run
	if err := apiCall(http.MethodPost, "/runs/"+args[0]+"/outcome", req, &run); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Closed run %s: %s\n", run.ID, runDecision)
	return nil
}

// readMetricsFile loads a metrics snapshot. Keys use the camelCase API names.
func readMetricsFile(path string) (*models.MetricsSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	var raw map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	// MetricsSnapshot only carries JSON tags.
	var m models.MetricsSnapshot
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	return &m, nil
}
