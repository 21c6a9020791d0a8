package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/creatorloop/internal/controlplane"
	"github.com/fentz26/creatorloop/internal/economy"
	"github.com/fentz26/creatorloop/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyanColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

func colored(c lipgloss.Color, s string) string {
	return lipgloss.NewStyle().Foreground(c).Render(s)
}

func formatGovernance(s economy.GovernanceStatus) string {
	switch s {
	case economy.GovernanceHealthy:
		return colored(successColor, "● HEALTHY")
	case economy.GovernanceWatch:
		return colored(warningColor, "◐ WATCH")
	case economy.GovernancePaused:
		return colored(errorColor, "✗ PAUSED")
	default:
		return string(s)
	}
}

func formatGate(s economy.GateStatus) string {
	switch s {
	case economy.GateReady:
		return colored(successColor, "ready")
	case economy.GateHold:
		return colored(warningColor, "hold")
	case economy.GateBlocked:
		return colored(errorColor, "blocked")
	default:
		return string(s)
	}
}

func formatSeverity(s economy.Severity) string {
	switch s {
	case economy.SeverityNone:
		return colored(successColor, "none")
	case economy.SeverityWatch:
		return colored(warningColor, "watch")
	case economy.SeverityCritical:
		return colored(errorColor, "critical")
	default:
		return string(s)
	}
}

func formatRunStatus(s models.RunStatus) string {
	switch s {
	case models.RunStatusPlanned:
		return "○ planned"
	case models.RunStatusInProgress:
		return "◑ in progress"
	case models.RunStatusCompleted:
		return "● completed"
	default:
		return string(s)
	}
}

// renderDecision writes a human summary of one decision cycle.
func renderDecision(w io.Writer, d *controlplane.DecideResponse) {
	header := titleStyle.Render("creatorloop · " + d.StorySlug)
	if d.DryRun {
		header += "  " + colored(warningColor, "[dry run]")
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, mutedStyle.Render("request "+d.RequestID))
	fmt.Fprintln(w)

	var summary strings.Builder
	fmt.Fprintf(&summary, "Mode:        %s (%s)\n", d.Mode, d.Objective)
	fmt.Fprintf(&summary, "Governance:  %s  score %d, cap %d\n", formatGovernance(d.Governance.Status), d.Governance.GovernanceScore, d.Governance.Constraints.MaxActionsCap)
	fmt.Fprintf(&summary, "Policy:      %s @ %d%%, %d action(s), %dh cooldown\n", d.DecisionPolicy.RecommendedOutcome, d.DecisionPolicy.Confidence, d.DecisionPolicy.MaxActionsPerCycle, d.DecisionPolicy.CooldownHours)
	fmt.Fprintf(&summary, "Window:      cycle %d %s\n", d.WindowGate.ActiveCycle, formatGate(d.WindowGate.Status))
	fmt.Fprintf(&summary, "Self-heal:   %s  risk %.0f\n", formatSeverity(d.SelfHealing.Severity), d.SelfHealing.RiskScore)
	fmt.Fprintf(&summary, "Cadence:     every %dh (recommended %dh)", d.Strategy.CadenceHours, d.Strategy.RecommendedCadenceHours)
	fmt.Fprintln(w, panelStyle.Render(summary.String()))

	if d.BlockedByGovernance {
		fmt.Fprintln(w, colored(errorColor, "Autorun blocked by governance."))
		for _, r := range d.Governance.Reasons {
			fmt.Fprintln(w, mutedStyle.Render("  - "+r))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("Executed (%d)", len(d.Executed))))
	if len(d.Executed) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  nothing executed this cycle"))
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, a := range d.Executed {
		runID := "-"
		if a.RunID != nil {
			runID = truncateID(*a.RunID)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s/%dd\t%s\n", runID, truncate(a.Title, 40), a.SprintObjective, a.HorizonDays, a.Status)
	}
	tw.Flush()

	if len(d.Skipped) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("Skipped (%d)", len(d.Skipped))))
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, s := range d.Skipped {
			fmt.Fprintf(tw, "  %s\t%s\n", truncate(s.Title, 40), mutedStyle.Render(s.Reason))
		}
		tw.Flush()
	}

	if oa := d.OutcomeAgentPlan; oa != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("Outcome agent (%d stale, %d selected, %d applied)", len(oa.Candidates), len(oa.Selected), len(oa.Applied))))
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range oa.Selected {
			fmt.Fprintf(tw, "  %s\t%s\t%.0fh\t%s\n", truncateID(c.RunID), c.SuggestedDecision, c.AgeHours, c.Reason)
		}
		tw.Flush()
	}
}

// renderRuns writes runs as a table, newest first.
func renderRuns(w io.Writer, runs []models.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOBJECTIVE\tSTATUS\tSOURCE\tDECISION\tCREATED")
	for _, r := range runs {
		decision := ""
		if r.OutcomeDecision != nil {
			decision = string(*r.OutcomeDecision)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), r.SprintObjective, formatRunStatus(r.Status), r.Plan.Source, decision, formatAge(time.Since(r.CreatedAt)))
	}
	tw.Flush()
}

// renderRun writes the details of one run.
func renderRun(w io.Writer, r *models.Run) {
	fmt.Fprintf(w, "ID:          %s\n", r.ID)
	fmt.Fprintf(w, "Story:       %s\n", r.StoryID)
	fmt.Fprintf(w, "Objective:   %s (%d days)\n", r.SprintObjective, r.HorizonDays)
	fmt.Fprintf(w, "Status:      %s\n", formatRunStatus(r.Status))
	fmt.Fprintf(w, "Source:      %s\n", r.Plan.Source)
	if id := r.Plan.ExecutedRecommendationID(); id != "" {
		fmt.Fprintf(w, "Executes:    %s\n", id)
	}
	fmt.Fprintf(w, "Created By:  %s\n", r.CreatedByUserID)
	fmt.Fprintf(w, "Created:     %s\n", r.CreatedAt.Format(time.RFC3339))
	if b := r.BaselineMetrics; b != nil {
		fmt.Fprintf(w, "Baseline:    combined %.1f\n", b.CombinedScore)
	}
	if r.OutcomeDecision != nil {
		fmt.Fprintf(w, "Decision:    %s\n", *r.OutcomeDecision)
	}
	if o := r.OutcomeMetrics; o != nil {
		fmt.Fprintf(w, "Outcome:     combined %.1f\n", o.CombinedScore)
	}
	if r.OutcomeNotes != nil && *r.OutcomeNotes != "" {
		fmt.Fprintf(w, "Notes:       %s\n", *r.OutcomeNotes)
	}
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:   %s\n", r.CompletedAt.Format(time.RFC3339))
	}
}

func renderRecords(w io.Writer, records []models.DecisionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No decision records found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tOUTCOME\tINPUTS")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Timestamp.Format(time.RFC3339), rec.Action, truncate(rec.Outcome, 50), truncateID(rec.InputsHash))
	}
	tw.Flush()
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
