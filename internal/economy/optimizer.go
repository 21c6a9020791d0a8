package economy

import (
	"fmt"

	"github.com/fentz26/creatorloop/internal/models"
)

// PolicyProfile overrides the policy's mode, action count and cooldown.
type PolicyProfile struct {
	Objective          Objective           `json:"objective"`
	Mode               models.AutonomyMode `json:"mode"`
	MaxActionsPerCycle int                 `json:"maxActionsPerCycle"`
	CooldownHours      int                 `json:"cooldownHours"`
}

// OptimizerReport holds the three profiles and the recommended one.
type OptimizerReport struct {
	Profiles             []PolicyProfile `json:"profiles"`
	RecommendedObjective Objective       `json:"recommendedObjective"`
	SelectedObjective    Objective       `json:"selectedObjective"`
	Reasons              []string        `json:"reasons"`
}

// Profile returns the profile for objective.
func (r OptimizerReport) Profile(o Objective) (PolicyProfile, bool) {
	for _, p := range r.Profiles {
		if p.Objective == o {
			return p, true
		}
	}
	return PolicyProfile{}, false
}

// OptimizerInput configures Optimize. Requested overrides the recommended
// objective when valid.
type OptimizerInput struct {
	Policy     DecisionPolicy
	Governance GovernanceReport
	Learning   LearningReport
	Backlog    Backlog
	Requested  Objective
}

// Optimize builds the stabilize, balanced and growth profiles.
func Optimize(in OptimizerInput) OptimizerReport {
	profiles := []PolicyProfile{
		stabilizeProfile(in.Policy, in.Governance),
		balancedProfile(in.Policy, in.Governance),
		growthProfile(in.Policy, in.Governance),
	}

	recommended, reasons := recommendedObjective(in.Governance, in.Learning, in.Backlog)
	selected := recommended
	if in.Requested.Valid() {
		selected = in.Requested
		if selected != recommended {
			reasons = append(reasons, fmt.Sprintf("operator selected %s over recommended %s", selected, recommended))
		}
	}
	return OptimizerReport{
		Profiles:             profiles,
		RecommendedObjective: recommended,
		SelectedObjective:    selected,
		Reasons:              reasons,
	}
}

func stabilizeProfile(p DecisionPolicy, g GovernanceReport) PolicyProfile {
	mode := models.ModeAssist
	if g.Status == GovernancePaused {
		mode = models.ModeManual
	}
	return PolicyProfile{
		Objective:          ObjectiveStabilize,
		Mode:               mode,
		MaxActionsPerCycle: 1,
		CooldownHours:      clampInt(max(p.CooldownHours+2, g.Constraints.CooldownFloorHours+2), 6, 24),
	}
}

func balancedProfile(p DecisionPolicy, g GovernanceReport) PolicyProfile {
	mode := p.Mode
	if mode == models.ModeAuto && g.Status != GovernanceHealthy {
		mode = models.ModeAssist
	}
	return PolicyProfile{
		Objective:          ObjectiveBalanced,
		Mode:               mode,
		MaxActionsPerCycle: clampInt(min(p.MaxActionsPerCycle, capOf(g)), MinActions, MaxActions),
		CooldownHours:      clampInt(max(p.CooldownHours, g.Constraints.CooldownFloorHours), MinCooldownHours, MaxCooldownHours),
	}
}

func growthProfile(p DecisionPolicy, g GovernanceReport) PolicyProfile {
	mode := models.ModeAssist
	if g.Status == GovernanceHealthy {
		mode = models.ModeAuto
	}
	return PolicyProfile{
		Objective:          ObjectiveGrowth,
		Mode:               mode,
		MaxActionsPerCycle: clampInt(min(capOf(g), max(p.MaxActionsPerCycle, 2)), MinActions, MaxActions),
		CooldownHours:      clampInt(max(g.Constraints.CooldownFloorHours, p.CooldownHours-2), MinCooldownHours, MaxCooldownHours),
	}
}

func capOf(g GovernanceReport) int {
	if g.Constraints.MaxActionsCap <= 0 {
		return MaxActions
	}
	return g.Constraints.MaxActionsCap
}

func recommendedObjective(g GovernanceReport, l LearningReport, b Backlog) (Objective, []string) {
	rate := l.Totals.PositiveRate()
	stale := l.Totals.StaleOpenRuns
	switch {
	case g.Status == GovernancePaused:
		return ObjectiveStabilize, []string{"governance is paused"}
	case stale >= 3:
		return ObjectiveStabilize, []string{fmt.Sprintf("%d stale open runs", stale)}
	case rate < 0.45:
		return ObjectiveStabilize, []string{fmt.Sprintf("positive rate %.2f is below 0.45", rate)}
	case g.Status == GovernanceHealthy && rate >= 0.68 && b.ReadyCount >= 2:
		return ObjectiveGrowth, []string{fmt.Sprintf("healthy governance, positive rate %.2f, %d ready items", rate, b.ReadyCount)}
	}
	return ObjectiveBalanced, []string{"no strong signal either way"}
}

// ApplyProfile sets the policy's knobs from profile and shifts confidence.
func ApplyProfile(policy DecisionPolicy, profile PolicyProfile) DecisionPolicy {
	out := policy.clone()
	out.Mode = profile.Mode
	out.MaxActionsPerCycle = profile.MaxActionsPerCycle
	out.CooldownHours = profile.CooldownHours
	switch profile.Objective {
	case ObjectiveStabilize:
		out.Confidence += 8
	case ObjectiveGrowth:
		out.Confidence -= 6
	default:
		out.Confidence += 2
	}
	out.Rationale = append(out.Rationale, fmt.Sprintf(
		"Optimizer: %s profile (%s, %d actions, %dh cooldown).",
		profile.Objective, profile.Mode, profile.MaxActionsPerCycle, profile.CooldownHours))
	return out.bounded()
}
