package economy

import (
	"fmt"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// GateStatus is the execution window verdict.
type GateStatus string

const (
	GateReady   GateStatus = "ready"
	GateHold    GateStatus = "hold"
	GateBlocked GateStatus = "blocked"
)

// WindowGate is the evaluation of the active strategy cycle.
type WindowGate struct {
	ActiveCycle          int        `json:"activeCycle"`
	WindowStart          time.Time  `json:"windowStart"`
	WindowEnd            time.Time  `json:"windowEnd"`
	Status               GateStatus `json:"status"`
	EvidenceRuns         int        `json:"evidenceRuns"`
	PositiveRuns         int        `json:"positiveRuns"`
	WindowPositiveRate   float64    `json:"windowPositiveRate"`
	StaleOpenRuns        int        `json:"staleOpenRuns"`
	NextCadenceHours     int        `json:"nextCadenceHours"`
	RecommendedObjective Objective  `json:"recommendedObjective"`
	Reasons              []string   `json:"reasons"`
}

// WindowInput configures EvaluateWindowGate.
type WindowInput struct {
	Strategy   StrategyLoop
	Governance GovernanceReport
	Learning   LearningReport
	Runs       []models.Run
	Now        time.Time
}

// EvaluateWindowGate decides whether the active cycle's window is open.
func EvaluateWindowGate(in WindowInput) WindowGate {
	cycle := activeCycle(in.Strategy, in.Now)
	gate := WindowGate{
		ActiveCycle:   cycle.Cycle,
		WindowStart:   cycle.WindowStart,
		WindowEnd:     cycle.WindowEnd,
		StaleOpenRuns: in.Learning.Totals.StaleOpenRuns,
		Reasons:       []string{},
	}

	for _, run := range in.Runs {
		if !run.Completed() || run.CompletedAt == nil {
			continue
		}
		at := *run.CompletedAt
		if at.Before(cycle.WindowStart) || at.After(in.Now) {
			continue
		}
		gate.EvidenceRuns++
		if IsPositiveOutcome(run) {
			gate.PositiveRuns++
		}
	}
	rate := ratio(gate.PositiveRuns, gate.EvidenceRuns)
	gate.WindowPositiveRate = round3(rate)
	stale := gate.StaleOpenRuns

	switch {
	case in.Governance.Status == GovernancePaused:
		gate.Status = GateBlocked
		gate.Reasons = append(gate.Reasons, "governance is paused")
	case gate.EvidenceRuns == 0:
		gate.Status = GateHold
		gate.Reasons = append(gate.Reasons, fmt.Sprintf("no completed runs since cycle %d opened", cycle.Cycle))
	case rate >= 0.6 && stale == 0:
		gate.Status = GateReady
		gate.Reasons = append(gate.Reasons, fmt.Sprintf("%d/%d window runs positive", gate.PositiveRuns, gate.EvidenceRuns))
	default:
		gate.Status = GateHold
		gate.Reasons = append(gate.Reasons, fmt.Sprintf("window positive rate %.2f with %d stale runs", rate, stale))
	}

	cadence := in.Strategy.CadenceHours
	if cadence <= 0 {
		cadence = 12
	}
	switch {
	case gate.Status == GateBlocked:
		gate.NextCadenceHours = StepCadence(cadence, 2)
	case gate.Status == GateHold:
		gate.NextCadenceHours = StepCadence(cadence, 1)
	case rate >= 0.75:
		gate.NextCadenceHours = StepCadence(cadence, -1)
	default:
		gate.NextCadenceHours = SnapCadence(cadence)
	}

	holdWithRisk := gate.Status == GateHold && ((gate.EvidenceRuns > 0 && rate < 0.5) || stale > 0)
	switch {
	case gate.Status == GateBlocked || holdWithRisk:
		gate.RecommendedObjective = ObjectiveStabilize
	case gate.Status == GateReady && rate >= 0.75:
		gate.RecommendedObjective = ObjectiveGrowth
	default:
		gate.RecommendedObjective = ObjectiveBalanced
	}
	return gate
}

func activeCycle(loop StrategyLoop, now time.Time) StrategyCycle {
	if len(loop.Cycles) == 0 {
		return StrategyCycle{Cycle: 1, WindowStart: now, WindowEnd: now}
	}
	for _, c := range loop.Cycles {
		if !now.Before(c.WindowStart) && now.Before(c.WindowEnd) {
			return c
		}
	}
	if now.Before(loop.Cycles[0].WindowStart) {
		return loop.Cycles[0]
	}
	return loop.Cycles[len(loop.Cycles)-1]
}
