package economy

import (
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// LoopInput is one invocation of the decision loop.
type LoopInput struct {
	Signals models.StorySignals
	Runs    []models.Run
	Now     time.Time

	// Mode locks the autonomy mode when valid; learning may change it otherwise.
	Mode             models.AutonomyMode
	MaxActions       int
	OwnerOverrides   map[string]string
	MerchCandidateID string
	Objective        Objective
	CadenceHours     int
	Anchor           time.Time

	// OutcomeAgent enables the outcome scan when non-nil.
	OutcomeAgent *OutcomeAgentOptions
}

// OutcomeAgentOptions tunes the outcome scan.
type OutcomeAgentOptions struct {
	StaleAfterHours float64
	MaxRuns         int
}

// LoopResult carries every intermediate report plus the final policy and selection.
type LoopResult struct {
	Operating   OperatingPlan
	Automation  AutomationPlan
	Learning    LearningReport
	Policy      DecisionPolicy
	Governance  GovernanceReport
	Backlog     Backlog
	Optimizer   OptimizerReport
	Strategy    StrategyLoop
	Gate        WindowGate
	SelfHealing SelfHealingReport
	Objective   Objective
	OutcomePlan *OutcomePlan
	Selected    []BacklogItem
}

// automationOptions derives the trigger-engine options from the loop input.
func (in LoopInput) automationOptions() AutomationOptions {
	idle, ok := IdleHours(in.Runs, in.Now)
	return AutomationOptions{
		IdleHours:        idle,
		HasHistory:       ok,
		OwnerOverrides:   in.OwnerOverrides,
		MerchCandidateID: in.MerchCandidateID,
	}
}

// Validate rejects overrides the loop cannot honor.
func (in LoopInput) Validate() error {
	return ValidateAutomationOptions(BuildOperatingPlan(in.Signals), in.automationOptions())
}

// RunLoop executes every stage in order. Self-healing runs strictly after the
// optimizer so exactly one policy value comes out.
func RunLoop(in LoopInput) LoopResult {
	var res LoopResult
	opts := in.automationOptions()

	res.Operating = BuildOperatingPlan(in.Signals)
	res.Automation = BuildAutomationPlan(res.Operating, opts)
	res.Learning = BuildLearningReport(in.Runs, in.Now)

	policy := BuildDecisionPolicy(PolicyInput{
		Operating:  res.Operating,
		Automation: res.Automation,
		Mode:       in.Mode,
		IdleHours:  opts.IdleHours,
		HasHistory: opts.HasHistory,
	})
	policy = ApplyLearning(policy, res.Learning, in.Mode.Valid())

	res.Governance = EvaluateGovernance(GovernanceInput{
		Runs:         in.Runs,
		Learning:     res.Learning,
		Automation:   res.Automation,
		Now:          in.Now,
		RequestedCap: in.MaxActions,
	})
	policy = ApplyGovernance(policy, res.Governance)

	res.Backlog = BuildBacklog(BacklogInput{
		Automation: res.Automation,
		Policy:     policy,
		Runs:       in.Runs,
		Now:        in.Now,
	})

	res.Optimizer = Optimize(OptimizerInput{
		Policy:     policy,
		Governance: res.Governance,
		Learning:   res.Learning,
		Backlog:    res.Backlog,
		Requested:  in.Objective,
	})
	if profile, ok := res.Optimizer.Profile(res.Optimizer.SelectedObjective); ok {
		policy = ApplyProfile(policy, profile)
	}

	res.Strategy = BuildStrategyLoop(StrategyInput{
		Governance:      res.Governance,
		Learning:        res.Learning,
		Backlog:         res.Backlog,
		Optimizer:       res.Optimizer,
		CadenceOverride: in.CadenceHours,
		Anchor:          in.Anchor,
		Now:             in.Now,
	})
	res.Gate = EvaluateWindowGate(WindowInput{
		Strategy:   res.Strategy,
		Governance: res.Governance,
		Learning:   res.Learning,
		Runs:       in.Runs,
		Now:        in.Now,
	})

	res.SelfHealing = MonitorSelfHealing(SelfHealingInput{
		Policy:     policy,
		Governance: res.Governance,
		Learning:   res.Learning,
		Gate:       res.Gate,
		Objective:  res.Optimizer.SelectedObjective,
	})
	res.Policy, res.Objective = ApplySelfHealing(policy, res.Optimizer.SelectedObjective, res.SelfHealing)

	if in.OutcomeAgent != nil {
		plan := PlanOutcomes(OutcomeInput{
			Runs:            in.Runs,
			Current:         res.Operating.Baseline,
			StaleAfterHours: in.OutcomeAgent.StaleAfterHours,
			MaxRuns:         in.OutcomeAgent.MaxRuns,
			Now:             in.Now,
		})
		res.OutcomePlan = &plan
	}

	limit := float64(res.Policy.MaxActionsPerCycle)
	if in.MaxActions > 0 {
		limit = float64(min(in.MaxActions, res.Policy.MaxActionsPerCycle))
	}
	res.Selected = SelectBacklogExecutionItems(res.Backlog, res.Policy, &limit)
	return res
}
