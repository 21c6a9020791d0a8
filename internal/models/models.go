// Package models defines the core domain types for creatorloop.
package models

import "time"

// RunStatus represents the lifecycle state of an automated run.
type RunStatus string

const (
	RunStatusPlanned    RunStatus = "planned"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPlanned, RunStatusInProgress, RunStatusCompleted:
		return true
	}
	return false
}

// OutcomeDecision is the closing verdict recorded on a completed run.
type OutcomeDecision string

const (
	DecisionScale   OutcomeDecision = "scale"
	DecisionIterate OutcomeDecision = "iterate"
	DecisionHold    OutcomeDecision = "hold"
	DecisionArchive OutcomeDecision = "archive"
)

// OutcomeDecisions lists every decision in a stable order.
var OutcomeDecisions = []OutcomeDecision{DecisionScale, DecisionIterate, DecisionHold, DecisionArchive}

// Valid reports whether d is a known outcome decision.
func (d OutcomeDecision) Valid() bool {
	switch d {
	case DecisionScale, DecisionIterate, DecisionHold, DecisionArchive:
		return true
	}
	return false
}

// AutonomyMode controls how much of the loop runs without an operator.
type AutonomyMode string

const (
	ModeManual AutonomyMode = "manual"
	ModeAssist AutonomyMode = "assist"
	ModeAuto   AutonomyMode = "auto"
)

// Valid reports whether m is a known autonomy mode.
func (m AutonomyMode) Valid() bool {
	switch m {
	case ModeManual, ModeAssist, ModeAuto:
		return true
	}
	return false
}

// Run is one persisted execution of a sprint for a story.
// Outcome fields are only set once Status is completed.
type Run struct {
	ID              string           `json:"id"`
	StoryID         string           `json:"storyId"`
	CreatedByUserID string           `json:"createdByUserId"`
	SprintObjective string           `json:"sprintObjective"`
	HorizonDays     int              `json:"horizonDays"`
	Status          RunStatus        `json:"status"`
	Plan            Plan             `json:"plan"`
	BaselineMetrics *MetricsSnapshot `json:"baselineMetrics,omitempty"`
	OutcomeMetrics  *MetricsSnapshot `json:"outcomeMetrics,omitempty"`
	OutcomeDecision *OutcomeDecision `json:"outcomeDecision"`
	OutcomeNotes    *string          `json:"outcomeNotes"`
	CompletedAt     *time.Time       `json:"completedAt"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Completed reports whether the run has been closed with an outcome.
func (r Run) Completed() bool {
	return r.Status == RunStatusCompleted
}

// LastActivityAt is the completion time when present, else the creation time.
func (r Run) LastActivityAt() time.Time {
	if r.CompletedAt != nil {
		return *r.CompletedAt
	}
	return r.CreatedAt
}

// RunSummary is the compact history entry returned by the decision loop.
type RunSummary struct {
	ID                       string           `json:"id"`
	SprintObjective          string           `json:"sprintObjective"`
	Status                   RunStatus        `json:"status"`
	Source                   PlanSource       `json:"source"`
	ExecutedRecommendationID string           `json:"executedRecommendationId,omitempty"`
	OutcomeDecision          *OutcomeDecision `json:"outcomeDecision"`
	CreatedAt                time.Time        `json:"createdAt"`
	CompletedAt              *time.Time       `json:"completedAt"`
}

// Summary projects a run to its history entry.
func (r Run) Summary() RunSummary {
	return RunSummary{
		ID:                       r.ID,
		SprintObjective:          r.SprintObjective,
		Status:                   r.Status,
		Source:                   r.Plan.Source,
		ExecutedRecommendationID: r.Plan.ExecutedRecommendationID(),
		OutcomeDecision:          r.OutcomeDecision,
		CreatedAt:                r.CreatedAt,
		CompletedAt:              r.CompletedAt,
	}
}

// Lock represents an advisory lock on a resource.
type Lock struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id"`
	LockType   string    `json:"lock_type"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// DecisionRecord is the audit entry written for every state-mutating decision.
type DecisionRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	StoryID    string    `json:"story_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
