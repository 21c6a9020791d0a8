// Package economy implements the creator-economy decision loop: learning from
// past runs, governance, backlog pacing, strategy projection and self-healing.
//
// Every exported function is a pure computation over its arguments. Callers
// supply "now" explicitly; nothing here reads the clock or touches storage.
package economy

import (
	"math"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// Priority ranks an automation recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight is the base backlog score contributed by the priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 100
	case PriorityMedium:
		return 72
	default:
		return 45
	}
}

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// Sprint objectives a recommendation can execute.
const (
	SprintShipNextDrop      = "ship_next_drop"
	SprintScaleDistribution = "scale_distribution"
	SprintStrengthenIP      = "strengthen_ip"
	SprintCloseRoleGaps     = "close_role_gaps"
	SprintDeepenRetention   = "deepen_retention"
	SprintGrowCommunity     = "grow_community"
)

// SprintObjectives lists every accepted sprint objective.
var SprintObjectives = []string{
	SprintShipNextDrop,
	SprintScaleDistribution,
	SprintStrengthenIP,
	SprintCloseRoleGaps,
	SprintDeepenRetention,
	SprintGrowCommunity,
}

// ExecutionSpec is what a run created from a recommendation will carry.
type ExecutionSpec struct {
	SprintObjective        string                 `json:"sprintObjective"`
	HorizonDays            int                    `json:"horizonDays"`
	RequireMerchPlan       bool                   `json:"requireMerchPlan"`
	MerchCandidateID       *string                `json:"merchCandidateId"`
	MerchChannels          []string               `json:"merchChannels"`
	DefaultOutcomeDecision models.OutcomeDecision `json:"defaultOutcomeDecision"`
}

// AutomationRecommendation is a candidate action produced for one invocation.
type AutomationRecommendation struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Priority         Priority      `json:"priority"`
	OwnerRoleAgentID string        `json:"ownerRoleAgentId"`
	TriggerIDs       []string      `json:"triggerIds"`
	Execution        ExecutionSpec `json:"execution"`
}

// DecisionPolicy is the knob set the loop acts under. Stages never mutate a
// policy; they return a new value with rationale and guardrails appended.
type DecisionPolicy struct {
	Mode               models.AutonomyMode    `json:"mode"`
	RecommendedOutcome models.OutcomeDecision `json:"recommendedOutcome"`
	Confidence         int                    `json:"confidence"`
	Rationale          []string               `json:"rationale"`
	Guardrails         []string               `json:"guardrails"`
	MaxActionsPerCycle int                    `json:"maxActionsPerCycle"`
	CooldownHours      int                    `json:"cooldownHours"`
}

// Policy bounds.
const (
	MinConfidence    = 10
	MaxConfidence    = 99
	MinActions       = 1
	MaxActions       = 5
	MinCooldownHours = 4
	MaxCooldownHours = 24
)

func (p DecisionPolicy) clone() DecisionPolicy {
	p.Rationale = append([]string(nil), p.Rationale...)
	p.Guardrails = append([]string(nil), p.Guardrails...)
	return p
}

// bounded clamps every numeric knob into its documented range.
func (p DecisionPolicy) bounded() DecisionPolicy {
	p.Confidence = clampInt(p.Confidence, MinConfidence, MaxConfidence)
	p.MaxActionsPerCycle = clampInt(p.MaxActionsPerCycle, MinActions, MaxActions)
	p.CooldownHours = clampInt(p.CooldownHours, MinCooldownHours, MaxCooldownHours)
	return p
}

// Objective is the optimizer profile a cycle runs under.
type Objective string

const (
	ObjectiveStabilize Objective = "stabilize"
	ObjectiveBalanced  Objective = "balanced"
	ObjectiveGrowth    Objective = "growth"
)

// Valid reports whether o is a known objective.
func (o Objective) Valid() bool {
	switch o {
	case ObjectiveStabilize, ObjectiveBalanced, ObjectiveGrowth:
		return true
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func hoursSince(t, now time.Time) float64 {
	return now.Sub(t).Hours()
}
