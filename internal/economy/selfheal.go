package economy

import (
	"fmt"

	"github.com/fentz26/creatorloop/internal/models"
)

// Severity is the escalation level of the self-healing override.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWatch    Severity = "watch"
	SeverityCritical Severity = "critical"
)

// PolicyPatch is the forced override applied after the optimizer.
type PolicyPatch struct {
	Objective          Objective           `json:"objective"`
	Mode               models.AutonomyMode `json:"mode"`
	MaxActionsPerCycle int                 `json:"maxActionsPerCycle"`
	CooldownHours      int                 `json:"cooldownHours"`
}

// SelfHealingReport is the monitor's verdict.
type SelfHealingReport struct {
	Severity    Severity     `json:"severity"`
	RiskScore   float64      `json:"riskScore"`
	Reasons     []string     `json:"reasons"`
	PolicyPatch *PolicyPatch `json:"policyPatch"`
}

// SelfHealingInput configures MonitorSelfHealing. Policy is the post-optimizer policy.
type SelfHealingInput struct {
	Policy     DecisionPolicy
	Governance GovernanceReport
	Learning   LearningReport
	Gate       WindowGate
	Objective  Objective
}

// RiskScore combines governance, learning, gate and staleness into 0..100.
func RiskScore(g GovernanceReport, l LearningReport, gate WindowGate) float64 {
	score := 0.4 * float64(100-g.GovernanceScore)
	score += 25 * (1 - l.Totals.PositiveRate())
	switch gate.Status {
	case GateBlocked:
		score += 20
	case GateHold:
		score += 8
	}
	score += 4 * float64(min(l.Totals.StaleOpenRuns, 5))
	return round1(clampFloat(score, 0, 100))
}

// MonitorSelfHealing decides whether to force-patch the policy.
func MonitorSelfHealing(in SelfHealingInput) SelfHealingReport {
	g := in.Governance
	risk := RiskScore(g, in.Learning, in.Gate)
	report := SelfHealingReport{Severity: SeverityNone, RiskScore: risk, Reasons: []string{}}

	switch {
	case g.Status == GovernancePaused || risk >= 60:
		report.Severity = SeverityCritical
	case g.Status == GovernanceWatch || risk >= 35:
		report.Severity = SeverityWatch
	default:
		return report
	}
	report.Reasons = append(report.Reasons, fmt.Sprintf("risk score %.1f with governance %s and gate %s", risk, g.Status, in.Gate.Status))
	if s := in.Learning.Totals.StaleOpenRuns; s > 0 {
		report.Reasons = append(report.Reasons, fmt.Sprintf("%d stale open runs", s))
	}

	floor := g.Constraints.CooldownFloorHours
	if report.Severity == SeverityCritical {
		mode := models.ModeAssist
		if g.Status == GovernancePaused || in.Policy.Mode == models.ModeManual {
			mode = models.ModeManual
		}
		report.PolicyPatch = &PolicyPatch{
			Objective:          ObjectiveStabilize,
			Mode:               mode,
			MaxActionsPerCycle: 1,
			CooldownHours:      clampInt(max(in.Gate.NextCadenceHours, floor), MinCooldownHours, MaxCooldownHours),
		}
		return report
	}

	objective := in.Objective
	if !objective.Valid() {
		objective = ObjectiveBalanced
	}
	mode := in.Policy.Mode
	if mode == models.ModeAuto && g.Status != GovernanceHealthy {
		mode = models.ModeAssist
	}
	report.PolicyPatch = &PolicyPatch{
		Objective:          objective,
		Mode:               mode,
		MaxActionsPerCycle: clampInt(min(in.Policy.MaxActionsPerCycle, 2), MinActions, MaxActions),
		CooldownHours:      clampInt(max(in.Policy.CooldownHours, floor), MinCooldownHours, MaxCooldownHours),
	}
	return report
}

// ApplySelfHealing applies the patch, if any, and returns the effective objective.
func ApplySelfHealing(policy DecisionPolicy, objective Objective, report SelfHealingReport) (DecisionPolicy, Objective) {
	if report.PolicyPatch == nil || report.Severity == SeverityNone {
		return policy, objective
	}
	out := policy.clone()
	p := report.PolicyPatch
	out.Mode = p.Mode
	out.MaxActionsPerCycle = min(out.MaxActionsPerCycle, p.MaxActionsPerCycle)
	out.CooldownHours = max(out.CooldownHours, p.CooldownHours)
	if report.Severity == SeverityCritical {
		out.Confidence -= 15
	} else {
		out.Confidence -= 5
	}
	out.Rationale = append(out.Rationale, fmt.Sprintf(
		"Self-healing patch applied (%s, risk %.1f): %s objective.", report.Severity, report.RiskScore, p.Objective))
	out.Guardrails = append(out.Guardrails, fmt.Sprintf(
		"Self-healing patch active: at most %d actions, %dh cooldown.", out.MaxActionsPerCycle, out.CooldownHours))
	return out.bounded(), p.Objective
}
