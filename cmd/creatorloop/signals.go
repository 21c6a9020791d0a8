package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/creatorloop/internal/models"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Register and inspect story signals",
}

var signalsSetCmd = &cobra.Command{
	Use:   "set [story-slug]",
	Short: "Register a story's signals from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignalsSet,
}

var signalsShowCmd = &cobra.Command{
	Use:   "show [story-slug]",
	Short: "Show a story's registered signals as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignalsShow,
}

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "List registered stories",
	RunE:  runStories,
}

var recordsCmd = &cobra.Command{
	Use:   "records [story-slug]",
	Short: "Show a story's decision records",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecords,
}

var (
	signalsFile  string
	autorunOnly  bool
	recordsLimit int
)

func init() {
	signalsCmd.AddCommand(signalsSetCmd, signalsShowCmd)

	signalsSetCmd.Flags().StringVarP(&signalsFile, "file", "f", "", "Signals file (required)")
	signalsSetCmd.MarkFlagRequired("file")

	storiesCmd.Flags().BoolVar(&autorunOnly, "autorun", false, "Only stories opted into autorun")

	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 20, "Maximum records to show")
}

// readSignalsFile decodes a YAML signals document. JSON is accepted too.
func readSignalsFile(path string) (*models.StorySignals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	var signals models.StorySignals
	if err := yaml.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("parse signals: %w", err)
	}
	return &signals, nil
}

func runSignalsSet(cmd *cobra.Command, args []string) error {
	signals, err := readSignalsFile(signalsFile)
	if err != nil {
		return err
	}
	var stored models.StorySignals
	if err := apiCall(http.MethodPut, "/stories/"+args[0]+"/signals", signals, &stored); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered signals for %s (story %s, autorun %t)\n", stored.StorySlug, stored.StoryID, stored.Autorun)
	return nil
}

func runSignalsShow(cmd *cobra.Command, args []string) error {
	var signals models.StorySignals
	if err := apiCall(http.MethodGet, "/stories/"+args[0]+"/signals", nil, &signals); err != nil {
		return err
	}
	out, err := yaml.Marshal(&signals)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runStories(cmd *cobra.Command, args []string) error {
	path := "/stories"
	if autorunOnly {
		path += "?autorun=true"
	}
	var stories []models.StorySignals
	if err := apiCall(http.MethodGet, path, nil, &stories); err != nil {
		return err
	}
	if len(stories) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stories registered")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tSTORY ID\tAUTORUN\tIP\tMERCH")
	for _, s := range stories {
		fmt.Fprintf(w, "%s\t%s\t%t\t%.0f\t%.0f\n", s.StorySlug, truncateID(s.StoryID), s.Autorun, s.IP.OverallScore, s.Merch.OverallScore)
	}
	return w.Flush()
}

func runRecords(cmd *cobra.Command, args []string) error {
	var records []models.DecisionRecord
	if err := apiCall(http.MethodGet, "/stories/"+args[0]+"/records?limit="+strconv.Itoa(recordsLimit), nil, &records); err != nil {
		return err
	}
	renderRecords(cmd.OutOrStdout(), records)
	return nil
}
