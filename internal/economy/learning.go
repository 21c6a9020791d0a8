package economy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// Learning thresholds.
const (
	StaleOpenRunHours   = 18
	MinLearningEvidence = 4
)

// LearningTotals aggregates the whole run history.
type LearningTotals struct {
	TotalRuns             int     `json:"totalRuns"`
	CompletedRuns         int     `json:"completedRuns"`
	StaleOpenRuns         int     `json:"staleOpenRuns"`
	PositiveCompletedRuns int     `json:"positiveCompletedRuns"`
	OverallPositiveRate   float64 `json:"overallPositiveRate"`
	AvgCombinedDelta      float64 `json:"avgCombinedDelta"`
}

// PositiveRate is the unrounded share of completed runs that were positive.
// Thresholds compare against it; OverallPositiveRate is the reported value.
func (t LearningTotals) PositiveRate() float64 {
	return ratio(t.PositiveCompletedRuns, t.CompletedRuns)
}

// LearningRecommendations are the policy knobs suggested by the history.
type LearningRecommendations struct {
	RecommendedMode             models.AutonomyMode    `json:"recommendedMode"`
	SuggestedCooldownHours      int                    `json:"suggestedCooldownHours"`
	SuggestedMaxActionsPerCycle int                    `json:"suggestedMaxActionsPerCycle"`
	RecommendedOutcomeBias      models.OutcomeDecision `json:"recommendedOutcomeBias"`
}

// PerformanceRow is the outcome record for one group of runs.
type PerformanceRow struct {
	Key              string  `json:"key"`
	Runs             int     `json:"runs"`
	CompletedRuns    int     `json:"completedRuns"`
	PositiveRuns     int     `json:"positiveRuns"`
	PositiveRate     float64 `json:"positiveRate"`
	AvgCombinedDelta float64 `json:"avgCombinedDelta"`
}

// LearningReport is what the loop has learned from past runs.
type LearningReport struct {
	Totals                    LearningTotals          `json:"totals"`
	Recommendations           LearningRecommendations `json:"recommendations"`
	ModePerformance           []PerformanceRow        `json:"modePerformance"`
	RecommendationPerformance []PerformanceRow        `json:"recommendationPerformance"`
	Notes                     []string                `json:"notes"`
}

// IsPositiveOutcome reports whether a completed run counts as a success.
func IsPositiveOutcome(run models.Run) bool {
	if !run.Completed() {
		return false
	}
	var decision models.OutcomeDecision
	if run.OutcomeDecision != nil {
		decision = *run.OutcomeDecision
	}
	if decision == models.DecisionArchive {
		return false
	}
	if delta, ok := combinedDelta(run); ok {
		switch decision {
		case models.DecisionScale:
			return delta >= -2
		case models.DecisionHold:
			return delta >= -1
		default:
			return delta >= 0
		}
	}
	return decision == models.DecisionScale || decision == models.DecisionIterate
}

// IsStaleOpen reports whether a non-completed run has been open longer than the threshold.
func IsStaleOpen(run models.Run, now time.Time, thresholdHours float64) bool {
	return !run.Completed() && hoursSince(run.CreatedAt, now) > thresholdHours
}

type perfAccumulator struct {
	runs, completed, positive int
	deltaSum                  float64
	deltaN                    int
}

func (a *perfAccumulator) add(run models.Run) {
	a.runs++
	if !run.Completed() {
		return
	}
	a.completed++
	if IsPositiveOutcome(run) {
		a.positive++
	}
	if d, ok := combinedDelta(run); ok {
		a.deltaSum += d
		a.deltaN++
	}
}

func (a *perfAccumulator) rate() float64 {
	return ratio(a.positive, a.completed)
}

func (a *perfAccumulator) avgDelta() float64 {
	if a.deltaN == 0 {
		return 0
	}
	return round1(a.deltaSum / float64(a.deltaN))
}

// BuildLearningReport aggregates run history into performance statistics and suggested knobs.
func BuildLearningReport(runs []models.Run, now time.Time) LearningReport {
	var all perfAccumulator
	stale := 0
	byMode := map[string]*perfAccumulator{}
	byRec := map[string]*perfAccumulator{}
	byDecision := map[models.OutcomeDecision]*perfAccumulator{}

	for _, run := range runs {
		all.add(run)
		if IsStaleOpen(run, now, StaleOpenRunHours) {
			stale++
		}

		mode := string(run.Plan.AutonomyMode())
		if mode == "" {
			mode = "unspecified"
		}
		accumulate(byMode, mode, run)

		if recID := run.Plan.ExecutedRecommendationID(); recID != "" {
			accumulate(byRec, recID, run)
		}

		if run.Completed() && run.OutcomeDecision != nil && run.OutcomeDecision.Valid() {
			acc, ok := byDecision[*run.OutcomeDecision]
			if !ok {
				acc = &perfAccumulator{}
				byDecision[*run.OutcomeDecision] = acc
			}
			acc.add(run)
		}
	}

	totals := LearningTotals{
		TotalRuns:             len(runs),
		CompletedRuns:         all.completed,
		StaleOpenRuns:         stale,
		PositiveCompletedRuns: all.positive,
		OverallPositiveRate:   round3(all.rate()),
		AvgCombinedDelta:      all.avgDelta(),
	}

	mode := learnedMode(totals)
	report := LearningReport{
		Totals: totals,
		Recommendations: LearningRecommendations{
			RecommendedMode:             mode,
			SuggestedCooldownHours:      suggestedCooldown(totals),
			SuggestedMaxActionsPerCycle: suggestedMaxActions(mode, totals.PositiveRate()),
			RecommendedOutcomeBias:      outcomeBias(byDecision),
		},
		ModePerformance:           performanceRows(byMode),
		RecommendationPerformance: performanceRows(byRec),
		Notes:                     []string{},
	}

	if totals.CompletedRuns < MinLearningEvidence {
		report.Notes = append(report.Notes, fmt.Sprintf(
			"only %d completed runs; %d are needed before learning changes the mode",
			totals.CompletedRuns, MinLearningEvidence))
	}
	if stale > 0 {
		report.Notes = append(report.Notes, fmt.Sprintf(
			"%d open runs are older than %dh", stale, StaleOpenRunHours))
	}
	if totals.CompletedRuns > 0 && all.deltaN == 0 {
		report.Notes = append(report.Notes, "no completed run carries both baseline and outcome metrics")
	}
	return report
}

func accumulate(m map[string]*perfAccumulator, key string, run models.Run) {
	acc, ok := m[key]
	if !ok {
		acc = &perfAccumulator{}
		m[key] = acc
	}
	acc.add(run)
}

func learnedMode(t LearningTotals) models.AutonomyMode {
	switch {
	case t.CompletedRuns >= MinLearningEvidence && t.PositiveRate() >= 0.68 && t.StaleOpenRuns <= 1:
		return models.ModeAuto
	case t.CompletedRuns >= MinLearningEvidence && t.PositiveRate() < 0.4:
		return models.ModeManual
	default:
		return models.ModeAssist
	}
}

func suggestedCooldown(t LearningTotals) int {
	hours := 12
	rate := t.PositiveRate()
	if rate >= 0.65 {
		hours -= 3
	}
	if rate < 0.45 {
		hours += 4
	}
	if t.StaleOpenRuns >= 2 {
		hours += 3
	}
	return clampInt(hours, 6, 24)
}

func suggestedMaxActions(mode models.AutonomyMode, rate float64) int {
	switch mode {
	case models.ModeManual:
		return 1
	case models.ModeAuto:
		if rate >= 0.75 {
			return 3
		}
		return 2
	default:
		if rate >= 0.6 {
			return 2
		}
		return 1
	}
}

func outcomeBias(byDecision map[models.OutcomeDecision]*perfAccumulator) models.OutcomeDecision {
	best := models.DecisionIterate
	var bestAcc *perfAccumulator
	for _, d := range models.OutcomeDecisions {
		acc, ok := byDecision[d]
		if !ok || acc.completed == 0 {
			continue
		}
		if bestAcc == nil ||
			acc.rate() > bestAcc.rate() ||
			(acc.rate() == bestAcc.rate() && acc.completed > bestAcc.completed) {
			best, bestAcc = d, acc
		}
	}
	return best
}

func performanceRows(m map[string]*perfAccumulator) []PerformanceRow {
	rows := make([]PerformanceRow, 0, len(m))
	for key, acc := range m {
		rows = append(rows, PerformanceRow{
			Key:              key,
			Runs:             acc.runs,
			CompletedRuns:    acc.completed,
			PositiveRuns:     acc.positive,
			PositiveRate:     round3(acc.rate()),
			AvgCombinedDelta: acc.avgDelta(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

// ApplyLearning folds the learning report into a policy. When modeLocked is
// true the caller chose the mode explicitly and learning leaves it alone.
func ApplyLearning(policy DecisionPolicy, learning LearningReport, modeLocked bool) DecisionPolicy {
	out := policy.clone()
	t := learning.Totals
	rec := learning.Recommendations

	if t.CompletedRuns < MinLearningEvidence {
		out.Rationale = append(out.Rationale, fmt.Sprintf(
			"Learning: %d completed runs is not enough evidence to adjust the policy.", t.CompletedRuns))
		return out.bounded()
	}

	if !modeLocked && rec.RecommendedMode.Valid() && rec.RecommendedMode != out.Mode {
		out.Rationale = append(out.Rationale, fmt.Sprintf(
			"Learning: mode %s -> %s from %.0f%% positive outcomes.", out.Mode, rec.RecommendedMode, 100*t.OverallPositiveRate))
		out.Mode = rec.RecommendedMode
	}
	if rec.SuggestedCooldownHours > out.CooldownHours {
		out.CooldownHours = rec.SuggestedCooldownHours
	}
	if rec.SuggestedMaxActionsPerCycle < out.MaxActionsPerCycle {
		out.MaxActionsPerCycle = rec.SuggestedMaxActionsPerCycle
	}
	shift := int(math.Round((t.PositiveRate() - 0.5) * 20))
	out.Confidence += shift
	out.Rationale = append(out.Rationale, fmt.Sprintf(
		"Learning: %d/%d completed runs positive, confidence %+d.", t.PositiveCompletedRuns, t.CompletedRuns, shift))
	return out.bounded()
}
