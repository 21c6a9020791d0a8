package economy

import (
	"fmt"
	"strings"

	"github.com/fentz26/creatorloop/internal/models"
)

// PolicyInput is everything the baseline policy is derived from.
type PolicyInput struct {
	Operating  OperatingPlan
	Automation AutomationPlan
	Mode       models.AutonomyMode
	IdleHours  float64
	HasHistory bool
}

// BuildDecisionPolicy computes the baseline policy from active triggers and run recency.
func BuildDecisionPolicy(in PolicyInput) DecisionPolicy {
	mode := in.Mode
	if !mode.Valid() {
		mode = models.ModeAssist
	}
	risks, highRisks, opportunities := in.Automation.RiskCounts()

	var outcome models.OutcomeDecision
	switch {
	case highRisks >= 2 || in.Operating.ScaleBand == BandStabilize:
		outcome = models.DecisionIterate
	case risks == 0 && opportunities > 0:
		outcome = models.DecisionScale
	case risks == 0 && opportunities == 0:
		outcome = models.DecisionHold
	default:
		outcome = models.DecisionIterate
	}

	idle := !in.HasHistory || in.IdleHours >= 24
	confidence := 48
	if opportunities > 0 {
		confidence += 18
	}
	if highRisks == 0 {
		confidence += 12
	}
	if idle {
		confidence += 10
	}
	confidence = clampInt(confidence, 35, 95)

	var maxActions, cooldown int
	switch mode {
	case models.ModeManual:
		maxActions, cooldown = 1, 18
	case models.ModeAuto:
		maxActions = 3
	default:
		maxActions = 2
	}
	if mode != models.ModeManual {
		cooldown = 8
		if risks > 0 {
			cooldown = 12
		}
	}

	ids := make([]string, 0, len(in.Automation.Triggers))
	for _, t := range in.Automation.Triggers {
		ids = append(ids, t.ID)
	}
	rationale := []string{
		fmt.Sprintf("Scale band %s at combined score %.1f.", in.Operating.ScaleBand, in.Operating.Baseline.CombinedScore),
	}
	if len(ids) > 0 {
		rationale = append(rationale, "Active triggers: "+strings.Join(ids, ", ")+".")
	} else {
		rationale = append(rationale, "No triggers active.")
	}
	if idle {
		rationale = append(rationale, "Story has been idle for at least 24h.")
	}

	policy := DecisionPolicy{
		Mode:               mode,
		RecommendedOutcome: outcome,
		Confidence:         confidence,
		Rationale:          rationale,
		Guardrails: []string{
			fmt.Sprintf("Wait at least %dh before re-running a recommendation.", cooldown),
			fmt.Sprintf("Execute at most %d actions per cycle.", maxActions),
		},
		MaxActionsPerCycle: maxActions,
		CooldownHours:      cooldown,
	}
	return policy.bounded()
}
