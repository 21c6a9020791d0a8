package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PlanSource identifies which part of the system produced a run's plan.
type PlanSource string

const (
	PlanSourceAutomation PlanSource = "economy_automation"
	PlanSourceBacklog    PlanSource = "economy_backlog"
	PlanSourceAutorun    PlanSource = "economy_autorun"
	PlanSourceManual     PlanSource = "manual"
)

// Recognized reports whether runs from this source count as executions of a
// backlog recommendation.
func (s PlanSource) Recognized() bool {
	switch s {
	case PlanSourceAutomation, PlanSourceBacklog, PlanSourceAutorun:
		return true
	}
	return false
}

// AutomationPlan is created when an operator starts a recommendation from the automation plan.
type AutomationPlan struct {
	RecommendationID string       `json:"executedRecommendationId"`
	Title            string       `json:"title,omitempty"`
	TriggerIDs       []string     `json:"triggerIds,omitempty"`
	AutonomyMode     AutonomyMode `json:"autonomyMode,omitempty"`
}

// BacklogPlan is created when a backlog item is executed outside the autorun loop.
type BacklogPlan struct {
	RecommendationID string       `json:"executedRecommendationId"`
	Score            float64      `json:"score"`
	AutonomyMode     AutonomyMode `json:"autonomyMode,omitempty"`
}

// AutorunPlan is created by the decision loop itself.
type AutorunPlan struct {
	RecommendationID       string          `json:"executedRecommendationId"`
	Title                  string          `json:"title,omitempty"`
	AutonomyMode           AutonomyMode    `json:"autonomyMode"`
	Objective              string          `json:"objective,omitempty"`
	DecisionID             string          `json:"decisionId,omitempty"`
	RequireMerchPlan       bool            `json:"requireMerchPlan,omitempty"`
	MerchCandidateID       string          `json:"merchCandidateId,omitempty"`
	MerchChannels          []string        `json:"merchChannels,omitempty"`
	DefaultOutcomeDecision OutcomeDecision `json:"defaultOutcomeDecision,omitempty"`
}

// ManualPlan covers operator-authored runs and any payload with an unknown source.
type ManualPlan struct {
	Notes string          `json:"notes,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Plan is a tagged union over the plan shapes, keyed by Source.
// Exactly one variant pointer matching Source is non-nil.
type Plan struct {
	Source     PlanSource
	Automation *AutomationPlan
	Backlog    *BacklogPlan
	Autorun    *AutorunPlan
	Manual     *ManualPlan
}

// NewAutomationPlan wraps p as a Plan.
func NewAutomationPlan(p AutomationPlan) Plan {
	return Plan{Source: PlanSourceAutomation, Automation: &p}
}

// NewBacklogPlan wraps p as a Plan.
func NewBacklogPlan(p BacklogPlan) Plan {
	return Plan{Source: PlanSourceBacklog, Backlog: &p}
}

// NewAutorunPlan wraps p as a Plan.
func NewAutorunPlan(p AutorunPlan) Plan {
	return Plan{Source: PlanSourceAutorun, Autorun: &p}
}

// NewManualPlan wraps p as a Plan.
func NewManualPlan(p ManualPlan) Plan {
	return Plan{Source: PlanSourceManual, Manual: &p}
}

// ExecutedRecommendationID returns the recommendation the run executed, if any.
func (p Plan) ExecutedRecommendationID() string {
	switch {
	case p.Automation != nil:
		return p.Automation.RecommendationID
	case p.Backlog != nil:
		return p.Backlog.RecommendationID
	case p.Autorun != nil:
		return p.Autorun.RecommendationID
	}
	return ""
}

// AutonomyMode returns the mode the run was planned under, or "" when unknown.
func (p Plan) AutonomyMode() AutonomyMode {
	switch {
	case p.Automation != nil:
		return p.Automation.AutonomyMode
	case p.Backlog != nil:
		return p.Backlog.AutonomyMode
	case p.Autorun != nil:
		return p.Autorun.AutonomyMode
	}
	return ""
}

type planSourceTag struct {
	Source PlanSource `json:"source"`
}

// MarshalJSON flattens the active variant next to its "source" discriminant.
func (p Plan) MarshalJSON() ([]byte, error) {
	switch p.Source {
	case PlanSourceAutomation:
		return json.Marshal(struct {
			planSourceTag
			*AutomationPlan
		}{planSourceTag{p.Source}, orEmpty(p.Automation)})
	case PlanSourceBacklog:
		return json.Marshal(struct {
			planSourceTag
			*BacklogPlan
		}{planSourceTag{p.Source}, orEmpty(p.Backlog)})
	case PlanSourceAutorun:
		return json.Marshal(struct {
			planSourceTag
			*AutorunPlan
		}{planSourceTag{p.Source}, orEmpty(p.Autorun)})
	default:
		return json.Marshal(struct {
			planSourceTag
			*ManualPlan
		}{planSourceTag{PlanSourceManual}, orEmpty(p.Manual)})
	}
}

// UnmarshalJSON decodes the variant selected by "source".
// Unknown or missing sources become a manual plan that keeps the raw payload.
func (p *Plan) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = NewManualPlan(ManualPlan{})
		return nil
	}

	var tag planSourceTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("decode plan source: %w", err)
	}

	switch tag.Source {
	case PlanSourceAutomation:
		var v AutomationPlan
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s plan: %w", tag.Source, err)
		}
		*p = NewAutomationPlan(v)
	case PlanSourceBacklog:
		var v BacklogPlan
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s plan: %w", tag.Source, err)
		}
		*p = NewBacklogPlan(v)
	case PlanSourceAutorun:
		var v AutorunPlan
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s plan: %w", tag.Source, err)
		}
		*p = NewAutorunPlan(v)
	case PlanSourceManual:
		var v ManualPlan
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s plan: %w", tag.Source, err)
		}
		*p = NewManualPlan(v)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		*p = NewManualPlan(ManualPlan{Raw: raw})
	}
	return nil
}

func orEmpty[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}
