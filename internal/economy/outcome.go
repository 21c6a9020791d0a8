package economy

import (
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// Outcome agent defaults.
const (
	DefaultStaleAfterHours = 18
	DefaultOutcomeMaxRuns  = 3
)

// OutcomeCandidate is an open run the agent proposes to close.
type OutcomeCandidate struct {
	RunID             string                 `json:"runId"`
	SprintObjective   string                 `json:"sprintObjective"`
	AgeHours          float64                `json:"ageHours"`
	BaselineCombined  *float64               `json:"baselineCombined"`
	CurrentCombined   float64                `json:"currentCombined"`
	CombinedDelta     *float64               `json:"combinedDelta"`
	SuggestedDecision models.OutcomeDecision `json:"suggestedDecision"`
	Reason            string                 `json:"reason"`
}

// OutcomePlan lists every candidate and the subset selected for closing.
type OutcomePlan struct {
	StaleAfterHours float64            `json:"staleAfterHours"`
	MaxRuns         int                `json:"maxRuns"`
	Candidates      []OutcomeCandidate `json:"candidates"`
	Selected        []OutcomeCandidate `json:"selected"`
}

// OutcomeInput configures PlanOutcomes. Zero values take the defaults.
type OutcomeInput struct {
	Runs            []models.Run
	Current         models.MetricsSnapshot
	StaleAfterHours float64
	MaxRuns         int
	Now             time.Time
}

// PlanOutcomes scans open runs for staleness and proposes closing decisions.
// Candidates are ordered oldest first; selection takes the first MaxRuns.
func PlanOutcomes(in OutcomeInput) OutcomePlan {
	staleAfter := in.StaleAfterHours
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfterHours
	}
	maxRuns := in.MaxRuns
	if maxRuns <= 0 {
		maxRuns = DefaultOutcomeMaxRuns
	}
	current := NormalizeMetrics(in.Current).CombinedScore

	open := make([]models.Run, 0)
	for _, run := range in.Runs {
		if IsStaleOpen(run, in.Now, staleAfter) {
			open = append(open, run)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })

	plan := OutcomePlan{
		StaleAfterHours: staleAfter,
		MaxRuns:         maxRuns,
		Candidates:      make([]OutcomeCandidate, 0, len(open)),
	}
	for _, run := range open {
		age := round1(hoursSince(run.CreatedAt, in.Now))
		c := OutcomeCandidate{
			RunID:           run.ID,
			SprintObjective: run.SprintObjective,
			AgeHours:        age,
			CurrentCombined: current,
		}
		if run.BaselineMetrics != nil {
			base := NormalizeMetrics(run.BaselineMetrics).CombinedScore
			delta := round1(current - base)
			c.BaselineCombined = &base
			c.CombinedDelta = &delta
		}

		veryOld := age >= 3*staleAfter
		switch {
		case (c.CombinedDelta == nil || *c.CombinedDelta < 0) && veryOld:
			c.SuggestedDecision = models.DecisionArchive
			c.Reason = fmt.Sprintf("open %.0fh without improvement", age)
		case c.CombinedDelta != nil && *c.CombinedDelta >= 5:
			c.SuggestedDecision = models.DecisionScale
			c.Reason = fmt.Sprintf("combined score up %.1f since baseline", *c.CombinedDelta)
		default:
			c.SuggestedDecision = models.DecisionIterate
			c.Reason = fmt.Sprintf("open %.0fh, no decisive movement", age)
		}
		plan.Candidates = append(plan.Candidates, c)
	}
	plan.Selected = plan.Candidates[:min(maxRuns, len(plan.Candidates))]
	return plan
}
