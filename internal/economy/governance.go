package economy

import (
	"fmt"
	"math"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// GovernanceStatus is the safety gate's coarse health classification.
type GovernanceStatus string

const (
	GovernanceHealthy GovernanceStatus = "healthy"
	GovernanceWatch   GovernanceStatus = "watch"
	GovernancePaused  GovernanceStatus = "paused"
)

// GovernanceConstraints are hard limits the policy must respect.
type GovernanceConstraints struct {
	AllowAutorun       bool `json:"allowAutorun"`
	MaxActionsCap      int  `json:"maxActionsCap"`
	CooldownFloorHours int  `json:"cooldownFloorHours"`
}

// GovernanceSignals are the inputs the score is computed from.
type GovernanceSignals struct {
	CompletedRuns       int     `json:"completedRuns"`
	PositiveRuns        int     `json:"positiveRuns"`
	RiskyRuns           int     `json:"riskyRuns"`
	PositiveRate        float64 `json:"positiveRate"`
	StaleOpenRuns       int     `json:"staleOpenRuns"`
	RiskyOutcomeRate    float64 `json:"riskyOutcomeRate"`
	LongestOpenRunHours float64 `json:"longestOpenRunHours"`
}

// GovernanceReport is the result of the governance gate.
type GovernanceReport struct {
	Status          GovernanceStatus      `json:"status"`
	GovernanceScore int                   `json:"governanceScore"`
	Constraints     GovernanceConstraints `json:"constraints"`
	Signals         GovernanceSignals     `json:"signals"`
	Reasons         []string              `json:"reasons"`
	Recommendations []string              `json:"recommendations"`
}

// GovernanceInput configures EvaluateGovernance. Zero requested values fall
// back to the widest bounds.
type GovernanceInput struct {
	Runs           []models.Run
	Learning       LearningReport
	Automation     AutomationPlan
	Now            time.Time
	RequestedCap   int
	RequestedFloor int
}

// IsRiskyOutcome reports whether a completed run ended in archive/hold or lost combined score.
func IsRiskyOutcome(run models.Run) bool {
	if !run.Completed() {
		return false
	}
	if run.OutcomeDecision != nil {
		switch *run.OutcomeDecision {
		case models.DecisionArchive, models.DecisionHold:
			return true
		}
	}
	if d, ok := combinedDelta(run); ok && d < 0 {
		return true
	}
	return false
}

// CollectGovernanceSignals derives the governance inputs from history.
func CollectGovernanceSignals(runs []models.Run, learning LearningReport, now time.Time) GovernanceSignals {
	risky := 0
	longest := 0.0
	for _, run := range runs {
		if run.Completed() {
			if IsRiskyOutcome(run) {
				risky++
			}
			continue
		}
		if age := hoursSince(run.CreatedAt, now); age > longest {
			longest = age
		}
	}
	return GovernanceSignals{
		CompletedRuns:       learning.Totals.CompletedRuns,
		PositiveRuns:        learning.Totals.PositiveCompletedRuns,
		RiskyRuns:           risky,
		PositiveRate:        learning.Totals.OverallPositiveRate,
		StaleOpenRuns:       learning.Totals.StaleOpenRuns,
		RiskyOutcomeRate:    round3(ratio(risky, learning.Totals.CompletedRuns)),
		LongestOpenRunHours: round1(longest),
	}
}

// RiskyRate is the unrounded share of completed runs that ended risky.
func (s GovernanceSignals) RiskyRate() float64 {
	return ratio(s.RiskyRuns, s.CompletedRuns)
}

// GovernanceScore computes the 0..100 health score from signals.
func GovernanceScore(s GovernanceSignals) int {
	score := 50.0
	score += math.Round(40 * ratio(s.PositiveRuns, s.CompletedRuns))
	score += 2 * float64(min(s.CompletedRuns, 5))
	score -= 6 * float64(min(s.StaleOpenRuns, 5))
	score -= math.Round(25 * s.RiskyRate())
	switch {
	case s.LongestOpenRunHours >= 48:
		score -= 8
	case s.LongestOpenRunHours >= 24:
		score -= 4
	}
	return clampInt(int(score), 0, 100)
}

// EvaluateGovernance classifies health and derives hard constraints.
func EvaluateGovernance(in GovernanceInput) GovernanceReport {
	signals := CollectGovernanceSignals(in.Runs, in.Learning, in.Now)
	score := GovernanceScore(signals)

	reqCap := in.RequestedCap
	if reqCap <= 0 {
		reqCap = MaxActions
	}
	reqCap = clampInt(reqCap, MinActions, MaxActions)
	reqFloor := in.RequestedFloor
	if reqFloor <= 0 {
		reqFloor = MinCooldownHours
	}
	reqFloor = clampInt(reqFloor, MinCooldownHours, MaxCooldownHours)

	report := GovernanceReport{
		GovernanceScore: score,
		Signals:         signals,
		Reasons:         []string{},
		Recommendations: []string{},
	}

	if score < 40 {
		report.Reasons = append(report.Reasons, fmt.Sprintf("governance score %d is below 40", score))
	} else if score < 65 {
		report.Reasons = append(report.Reasons, fmt.Sprintf("governance score %d is below 65", score))
	}
	if signals.StaleOpenRuns > 0 {
		report.Reasons = append(report.Reasons, fmt.Sprintf("%d open runs are stale", signals.StaleOpenRuns))
		report.Recommendations = append(report.Recommendations, "Close or archive stale runs before scheduling new ones.")
	}
	risky := signals.RiskyRate()
	if risky >= 0.35 {
		report.Reasons = append(report.Reasons, fmt.Sprintf("%.0f%% of completed runs ended risky", 100*signals.RiskyOutcomeRate))
		report.Recommendations = append(report.Recommendations, "Review archived and held runs for a shared cause.")
	}
	if signals.LongestOpenRunHours >= 24 {
		report.Reasons = append(report.Reasons, fmt.Sprintf("oldest open run has been open %.0fh", signals.LongestOpenRunHours))
	}
	blocked := 0
	for _, q := range in.Automation.Queue {
		if q.Status == QueueBlocked {
			blocked++
		}
	}
	if blocked > 0 {
		report.Recommendations = append(report.Recommendations, fmt.Sprintf("Unblock %d queued recommendations by assigning owners or merch candidates.", blocked))
	}

	switch {
	case score < 40 || signals.StaleOpenRuns >= 4 || (signals.CompletedRuns >= 3 && risky >= 0.6):
		report.Status = GovernancePaused
		report.Constraints = GovernanceConstraints{
			AllowAutorun:       false,
			MaxActionsCap:      1,
			CooldownFloorHours: clampInt(max(reqFloor, 18), MinCooldownHours, MaxCooldownHours),
		}
		report.Recommendations = append(report.Recommendations, "Autorun is paused; run actions manually until health recovers.")
	case score < 65 || signals.StaleOpenRuns >= 2 || risky >= 0.35:
		report.Status = GovernanceWatch
		report.Constraints = GovernanceConstraints{
			AllowAutorun:       true,
			MaxActionsCap:      min(reqCap, 2),
			CooldownFloorHours: max(reqFloor, 12),
		}
	default:
		report.Status = GovernanceHealthy
		report.Constraints = GovernanceConstraints{
			AllowAutorun:       true,
			MaxActionsCap:      reqCap,
			CooldownFloorHours: reqFloor,
		}
	}
	return report
}

// ApplyGovernance clamps the policy to the governance constraints.
func ApplyGovernance(policy DecisionPolicy, report GovernanceReport) DecisionPolicy {
	out := policy.clone()
	c := report.Constraints
	if c.MaxActionsCap > 0 && out.MaxActionsPerCycle > c.MaxActionsCap {
		out.MaxActionsPerCycle = c.MaxActionsCap
	}
	if out.CooldownHours < c.CooldownFloorHours {
		out.CooldownHours = c.CooldownFloorHours
	}
	out.Rationale = append(out.Rationale, fmt.Sprintf(
		"Governance %s (score %d): cap %d actions, cooldown floor %dh.",
		report.Status, report.GovernanceScore, c.MaxActionsCap, c.CooldownFloorHours))
	if !c.AllowAutorun {
		out.Guardrails = append(out.Guardrails, "Autorun blocked by governance until status leaves paused.")
	}
	return out.bounded()
}
