package economy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/creatorloop/internal/models"
)

func TestSnapCadence(t *testing.T) {
	tests := map[int]int{1: 6, 6: 6, 7: 8, 10: 12, 14: 12, 15: 18, 21: 24, 100: 24}
	for in, want := range tests {
		assert.Equal(t, want, SnapCadence(in), "SnapCadence(%d)", in)
	}
}

func TestStepCadence(t *testing.T) {
	assert.Equal(t, 24, StepCadence(12, 2))
	assert.Equal(t, 18, StepCadence(12, 1))
	assert.Equal(t, 6, StepCadence(6, -1))
	assert.Equal(t, 6, StepCadence(8, -1))
	assert.Equal(t, 24, StepCadence(24, 3))
}

func TestResolveAnchor(t *testing.T) {
	anchor, renewed := ResolveAnchor(time.Time{}, 12, testNow)
	assert.True(t, renewed)
	assert.Equal(t, testNow, anchor)

	prev := hoursAgo(20)
	anchor, renewed = ResolveAnchor(prev, 12, testNow)
	assert.False(t, renewed)
	assert.Equal(t, prev, anchor)

	anchor, renewed = ResolveAnchor(hoursAgo(36), 12, testNow)
	assert.True(t, renewed)
	assert.Equal(t, testNow, anchor)
}

type stageFixture struct {
	runs       []models.Run
	learning   LearningReport
	governance GovernanceReport
	backlog    Backlog
	optimizer  OptimizerReport
	policy     DecisionPolicy
}

func buildStages(runs []models.Run, signals models.StorySignals, requested Objective) stageFixture {
	f := stageFixture{runs: runs}
	op := BuildOperatingPlan(signals)
	auto := BuildAutomationPlan(op, AutomationOptions{})
	f.learning = BuildLearningReport(runs, testNow)
	policy := ApplyLearning(BuildDecisionPolicy(PolicyInput{Operating: op, Automation: auto, Mode: models.ModeAssist}), f.learning, false)
	f.governance = EvaluateGovernance(GovernanceInput{Runs: runs, Learning: f.learning, Automation: auto, Now: testNow})
	f.policy = ApplyGovernance(policy, f.governance)
	f.backlog = BuildBacklog(BacklogInput{Automation: auto, Policy: f.policy, Runs: runs, Now: testNow})
	f.optimizer = Optimize(OptimizerInput{Policy: f.policy, Governance: f.governance, Learning: f.learning, Backlog: f.backlog, Requested: requested})
	return f
}

func TestOptimizer(t *testing.T) {
	t.Run("healthy story grows", func(t *testing.T) {
		f := buildStages(history(5, 5), strongSignals(), "")
		assert.Equal(t, ObjectiveGrowth, f.optimizer.RecommendedObjective)
		assert.Equal(t, ObjectiveGrowth, f.optimizer.SelectedObjective)

		growth, ok := f.optimizer.Profile(ObjectiveGrowth)
		require.True(t, ok)
		assert.Equal(t, models.ModeAuto, growth.Mode)
		assert.Equal(t, 2, growth.MaxActionsPerCycle)
	})

	t.Run("paused story stabilizes", func(t *testing.T) {
		f := buildStages(criticalHistory(), strongSignals(), ObjectiveGrowth)
		assert.Equal(t, ObjectiveStabilize, f.optimizer.RecommendedObjective)
		assert.Equal(t, ObjectiveGrowth, f.optimizer.SelectedObjective)

		stab, _ := f.optimizer.Profile(ObjectiveStabilize)
		assert.Equal(t, models.ModeManual, stab.Mode)
		assert.Equal(t, 1, stab.MaxActionsPerCycle)
		assert.Equal(t, 21, stab.CooldownHours)

		growth, _ := f.optimizer.Profile(ObjectiveGrowth)
		assert.Equal(t, models.ModeAssist, growth.Mode)
		assert.Equal(t, 1, growth.MaxActionsPerCycle)
		assert.GreaterOrEqual(t, growth.CooldownHours, 18)
	})
}

func TestApplyProfileConfidence(t *testing.T) {
	policy := DecisionPolicy{Mode: models.ModeAssist, Confidence: 95, MaxActionsPerCycle: 2, CooldownHours: 8}
	for objective, want := range map[Objective]int{ObjectiveStabilize: 99, ObjectiveBalanced: 97, ObjectiveGrowth: 89} {
		got := ApplyProfile(policy, PolicyProfile{Objective: objective, Mode: models.ModeAssist, MaxActionsPerCycle: 2, CooldownHours: 8})
		assert.Equal(t, want, got.Confidence, objective)
	}
}

func TestStrategyLoop(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := buildStages(history(5, 5), strongSignals(), ObjectiveBalanced)
		loop := BuildStrategyLoop(StrategyInput{
			Governance: f.governance, Learning: f.learning, Backlog: f.backlog, Optimizer: f.optimizer, Now: testNow,
		})

		assert.Equal(t, 6, loop.CadenceHours)
		assert.True(t, loop.SafeWindow)
		require.Len(t, loop.Cycles, StrategyCycles)
		assert.Equal(t, ObjectiveBalanced, loop.Cycles[0].Objective)
		assert.Equal(t, ObjectiveGrowth, loop.Cycles[1].Objective)
		assert.Equal(t, ObjectiveGrowth, loop.Cycles[2].Objective)
		assert.Equal(t, testNow.Add(6*time.Hour), loop.Cycles[1].WindowStart)
		assert.Equal(t, testNow.Add(18*time.Hour), loop.Cycles[2].WindowEnd)
		assert.Equal(t, models.ModeAuto, loop.Cycles[1].Mode)
	})

	t.Run("paused forces stabilize", func(t *testing.T) {
		f := buildStages(criticalHistory(), strongSignals(), ObjectiveGrowth)
		loop := BuildStrategyLoop(StrategyInput{
			Governance: f.governance, Learning: f.learning, Backlog: f.backlog, Optimizer: f.optimizer,
			CadenceOverride: 7, Now: testNow,
		})

		assert.Equal(t, 24, loop.RecommendedCadenceHours)
		assert.Equal(t, 8, loop.CadenceHours)
		for _, c := range loop.Cycles {
			assert.Equal(t, ObjectiveStabilize, c.Objective, "cycle %d", c.Cycle)
		}
	})

	t.Run("anchored", func(t *testing.T) {
		f := buildStages(history(5, 5), strongSignals(), "")
		anchor := hoursAgo(7)
		loop := BuildStrategyLoop(StrategyInput{
			Governance: f.governance, Learning: f.learning, Backlog: f.backlog, Optimizer: f.optimizer,
			Anchor: anchor, Now: testNow,
		})
		assert.Equal(t, anchor, loop.AnchorAt)
		assert.Equal(t, anchor.Add(6*time.Hour), loop.Cycles[1].WindowStart)
	})
}

func TestWindowGate(t *testing.T) {
	loop := StrategyLoop{
		CadenceHours: 6,
		AnchorAt:     hoursAgo(2),
		Cycles: []StrategyCycle{
			{Cycle: 1, WindowStart: hoursAgo(2), WindowEnd: hoursAgo(2).Add(6 * time.Hour)},
			{Cycle: 2, WindowStart: hoursAgo(2).Add(6 * time.Hour), WindowEnd: hoursAgo(2).Add(12 * time.Hour)},
			{Cycle: 3, WindowStart: hoursAgo(2).Add(12 * time.Hour), WindowEnd: hoursAgo(2).Add(18 * time.Hour)},
		},
	}
	healthy := GovernanceReport{Status: GovernanceHealthy}

	t.Run("ready on strong evidence", func(t *testing.T) {
		runs := []models.Run{closedRun("w1", 2, models.DecisionScale), closedRun("old", 40, models.DecisionArchive)}
		gate := EvaluateWindowGate(WindowInput{Strategy: loop, Governance: healthy, Learning: BuildLearningReport(runs, testNow), Runs: runs, Now: testNow})

		assert.Equal(t, 1, gate.ActiveCycle)
		assert.Equal(t, GateReady, gate.Status)
		assert.Equal(t, 1, gate.EvidenceRuns)
		assert.Equal(t, 6, gate.NextCadenceHours)
		assert.Equal(t, ObjectiveGrowth, gate.RecommendedObjective)
	})

	t.Run("hold without evidence", func(t *testing.T) {
		gate := EvaluateWindowGate(WindowInput{Strategy: loop, Governance: healthy, Now: testNow})
		assert.Equal(t, GateHold, gate.Status)
		assert.Equal(t, 8, gate.NextCadenceHours)
		assert.Equal(t, ObjectiveBalanced, gate.RecommendedObjective)
	})

	t.Run("hold with risk stabilizes", func(t *testing.T) {
		runs := []models.Run{closedRun("w1", 2, models.DecisionArchive)}
		gate := EvaluateWindowGate(WindowInput{Strategy: loop, Governance: healthy, Learning: BuildLearningReport(runs, testNow), Runs: runs, Now: testNow})
		assert.Equal(t, GateHold, gate.Status)
		assert.Equal(t, ObjectiveStabilize, gate.RecommendedObjective)
	})

	t.Run("blocked when paused", func(t *testing.T) {
		runs := []models.Run{closedRun("w1", 2, models.DecisionScale)}
		gate := EvaluateWindowGate(WindowInput{Strategy: loop, Governance: GovernanceReport{Status: GovernancePaused}, Runs: runs, Now: testNow})
		assert.Equal(t, GateBlocked, gate.Status)
		assert.Equal(t, 12, gate.NextCadenceHours)
		assert.Equal(t, ObjectiveStabilize, gate.RecommendedObjective)
	})

	t.Run("active cycle clamps to last", func(t *testing.T) {
		gate := EvaluateWindowGate(WindowInput{Strategy: loop, Governance: healthy, Now: testNow.Add(30 * time.Hour)})
		assert.Equal(t, 3, gate.ActiveCycle)
	})
}

func TestSelfHealingCritical(t *testing.T) {
	f := buildStages(criticalHistory(), strongSignals(), "")
	policy := ApplyProfile(f.policy, mustProfile(t, f.optimizer, f.optimizer.SelectedObjective))
	loop := BuildStrategyLoop(StrategyInput{Governance: f.governance, Learning: f.learning, Backlog: f.backlog, Optimizer: f.optimizer, Now: testNow})
	gate := EvaluateWindowGate(WindowInput{Strategy: loop, Governance: f.governance, Learning: f.learning, Runs: f.runs, Now: testNow})

	report := MonitorSelfHealing(SelfHealingInput{Policy: policy, Governance: f.governance, Learning: f.learning, Gate: gate, Objective: f.optimizer.SelectedObjective})
	assert.Equal(t, SeverityCritical, report.Severity)
	assert.GreaterOrEqual(t, report.RiskScore, 60.0)
	require.NotNil(t, report.PolicyPatch)
	assert.Equal(t, ObjectiveStabilize, report.PolicyPatch.Objective)
	assert.Equal(t, models.ModeManual, report.PolicyPatch.Mode)
	assert.Equal(t, 1, report.PolicyPatch.MaxActionsPerCycle)
	assert.Equal(t, 24, report.PolicyPatch.CooldownHours)

	patched, objective := ApplySelfHealing(policy, f.optimizer.SelectedObjective, report)
	assert.Equal(t, ObjectiveStabilize, objective)
	assert.Equal(t, 1, patched.MaxActionsPerCycle)
	assert.Equal(t, policy.Confidence-15, patched.Confidence)
	assert.Contains(t, patched.Rationale[len(patched.Rationale)-1], "Self-healing patch applied")
	assert.Contains(t, patched.Guardrails[len(patched.Guardrails)-1], "Self-healing patch active")
}

func TestSelfHealingCriticalCooldownIgnoresPolicy(t *testing.T) {
	f := buildStages(criticalHistory(), strongSignals(), "")
	policy := ApplyProfile(f.policy, mustProfile(t, f.optimizer, f.optimizer.SelectedObjective))
	loop := BuildStrategyLoop(StrategyInput{Governance: f.governance, Learning: f.learning, Backlog: f.backlog, Optimizer: f.optimizer, Now: testNow})
	gate := EvaluateWindowGate(WindowInput{Strategy: loop, Governance: f.governance, Learning: f.learning, Runs: f.runs, Now: testNow})

	// a short gate cadence under a long policy cooldown
	gate.NextCadenceHours = 6
	policy.CooldownHours = MaxCooldownHours
	report := MonitorSelfHealing(SelfHealingInput{Policy: policy, Governance: f.governance, Learning: f.learning, Gate: gate, Objective: f.optimizer.SelectedObjective})
	require.Equal(t, SeverityCritical, report.Severity)
	require.NotNil(t, report.PolicyPatch)
	floor := f.governance.Constraints.CooldownFloorHours
	require.Less(t, floor, MaxCooldownHours)
	assert.Equal(t, max(6, floor), report.PolicyPatch.CooldownHours)
}

func TestSelfHealingNeverRaisesAggressiveness(t *testing.T) {
	for completed := 0; completed <= 6; completed++ {
		for positive := 0; positive <= completed; positive++ {
			for stale := 0; stale <= 4; stale++ {
				runs := history(completed, positive)
				for i := 0; i < stale; i++ {
					runs = append(runs, openRun(fmt.Sprintf("open-%d", i), 19+float64(i)))
				}
				res := RunLoop(LoopInput{Signals: strongSignals(), Runs: runs, Now: testNow})

				pre, _ := res.Optimizer.Profile(res.Optimizer.SelectedObjective)
				if res.SelfHealing.Severity == SeverityCritical {
					require.Equal(t, ObjectiveStabilize, res.Objective)
					require.Equal(t, 1, res.Policy.MaxActionsPerCycle)
				}
				require.LessOrEqual(t, res.Policy.MaxActionsPerCycle, pre.MaxActionsPerCycle)
				require.GreaterOrEqual(t, res.Policy.CooldownHours, pre.CooldownHours)
				if res.Governance.Status == GovernancePaused {
					require.LessOrEqual(t, len(res.Selected), 1)
				}
			}
		}
	}
}

func mustProfile(t *testing.T, r OptimizerReport, o Objective) PolicyProfile {
	t.Helper()
	p, ok := r.Profile(o)
	require.True(t, ok)
	return p
}
