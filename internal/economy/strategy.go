package economy

import (
	"fmt"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// CadenceLadder is the set of allowed cycle lengths in hours, fastest first.
var CadenceLadder = []int{6, 8, 12, 18, 24}

// StrategyCycles is the number of cycles the strategy loop projects.
const StrategyCycles = 3

// SnapCadence returns the ladder value nearest to hours; ties snap to the slower value.
func SnapCadence(hours int) int {
	best := CadenceLadder[0]
	bestDist := -1
	for _, c := range CadenceLadder {
		d := c - hours
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist || (d == bestDist && c > best) {
			best, bestDist = c, d
		}
	}
	return best
}

// StepCadence moves steps along the ladder; positive is slower.
func StepCadence(hours, steps int) int {
	idx := 0
	snapped := SnapCadence(hours)
	for i, c := range CadenceLadder {
		if c == snapped {
			idx = i
			break
		}
	}
	return CadenceLadder[clampInt(idx+steps, 0, len(CadenceLadder)-1)]
}

// StrategyCycle is one projected execution window.
type StrategyCycle struct {
	Cycle              int                 `json:"cycle"`
	Objective          Objective           `json:"objective"`
	Mode               models.AutonomyMode `json:"mode"`
	MaxActionsPerCycle int                 `json:"maxActionsPerCycle"`
	CooldownHours      int                 `json:"cooldownHours"`
	WindowStart        time.Time           `json:"windowStart"`
	WindowEnd          time.Time           `json:"windowEnd"`
}

// StrategyLoop is the 3-cycle forward schedule.
type StrategyLoop struct {
	CadenceHours            int             `json:"cadenceHours"`
	RecommendedCadenceHours int             `json:"recommendedCadenceHours"`
	SafeWindow              bool            `json:"safeWindow"`
	AnchorAt                time.Time       `json:"anchorAt"`
	Cycles                  []StrategyCycle `json:"cycles"`
	Reasons                 []string        `json:"reasons"`
}

// StrategyInput configures BuildStrategyLoop. A zero Anchor starts the loop at Now.
type StrategyInput struct {
	Governance      GovernanceReport
	Learning        LearningReport
	Backlog         Backlog
	Optimizer       OptimizerReport
	CadenceOverride int
	Anchor          time.Time
	Now             time.Time
}

// RecommendedCadence picks the cycle length from health signals.
func RecommendedCadence(g GovernanceReport, l LearningReport, b Backlog) int {
	rate := l.Totals.PositiveRate()
	switch {
	case g.Status == GovernancePaused:
		return 24
	case g.Status == GovernanceWatch:
		return 12
	case rate >= 0.75 && b.ReadyCount >= 2 && l.Totals.StaleOpenRuns == 0:
		return 6
	case rate >= 0.62:
		return 8
	default:
		return 12
	}
}

// ResolveAnchor keeps prev while its 3-cycle horizon is still running and
// otherwise starts a new loop at now.
func ResolveAnchor(prev time.Time, cadenceHours int, now time.Time) (time.Time, bool) {
	if prev.IsZero() || prev.After(now) {
		return now, true
	}
	horizon := time.Duration(StrategyCycles*cadenceHours) * time.Hour
	if !now.Before(prev.Add(horizon)) {
		return now, true
	}
	return prev, false
}

// BuildStrategyLoop projects three cycles with per-cycle objectives.
func BuildStrategyLoop(in StrategyInput) StrategyLoop {
	g, l := in.Governance, in.Learning
	rate := l.Totals.PositiveRate()
	stale := l.Totals.StaleOpenRuns

	recommended := RecommendedCadence(g, l, in.Backlog)
	cadence := recommended
	reasons := []string{fmt.Sprintf("recommended cadence %dh for %s governance", recommended, g.Status)}
	if in.CadenceOverride > 0 {
		cadence = SnapCadence(in.CadenceOverride)
		reasons = append(reasons, fmt.Sprintf("operator cadence %dh snapped to %dh", in.CadenceOverride, cadence))
	}

	safe := g.Status == GovernanceHealthy && stale == 0 && g.Signals.RiskyRate() < 0.4
	anchor := in.Anchor
	if anchor.IsZero() {
		anchor = in.Now
	}
	anchor = anchor.UTC()

	first := in.Optimizer.SelectedObjective
	if !first.Valid() {
		first = ObjectiveBalanced
	}

	step := time.Duration(cadence) * time.Hour
	cycles := make([]StrategyCycle, 0, StrategyCycles)
	for i := 1; i <= StrategyCycles; i++ {
		var obj Objective
		switch {
		case g.Status == GovernancePaused:
			obj = ObjectiveStabilize
		case i == 1:
			obj = first
		case safe && rate >= 0.7 && in.Backlog.ReadyCount >= 2:
			obj = ObjectiveGrowth
		case rate < 0.5 || stale >= 2:
			obj = ObjectiveStabilize
		default:
			obj = ObjectiveBalanced
		}

		cycle := StrategyCycle{
			Cycle:       i,
			Objective:   obj,
			WindowStart: anchor.Add(time.Duration(i-1) * step),
			WindowEnd:   anchor.Add(time.Duration(i) * step),
		}
		if p, ok := in.Optimizer.Profile(obj); ok {
			cycle.Mode = p.Mode
			cycle.MaxActionsPerCycle = p.MaxActionsPerCycle
			cycle.CooldownHours = p.CooldownHours
		}
		cycles = append(cycles, cycle)
	}
	if g.Status == GovernancePaused {
		reasons = append(reasons, "governance paused: every cycle stabilizes")
	} else if safe {
		reasons = append(reasons, "safe window: healthy governance with no stale or risky outcomes")
	}

	return StrategyLoop{
		CadenceHours:            cadence,
		RecommendedCadenceHours: recommended,
		SafeWindow:              safe,
		AnchorAt:                anchor,
		Cycles:                  cycles,
		Reasons:                 reasons,
	}
}
