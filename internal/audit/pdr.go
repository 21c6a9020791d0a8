// Package audit writes decision records for every state-mutating action of the loop.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/creatorloop/internal/models"
)

// RecordSink persists decision records.
type RecordSink interface {
	WriteDecisionRecord(ctx context.Context, action, inputsHash, outcome, storyID, details string) (*models.DecisionRecord, error)
}

// Actions recorded by the control plane.
const (
	ActionDecide       = "economy.decide"
	ActionOutcomeApply = "economy.outcome_agent"
	ActionRunCreate    = "run.create"
	ActionRunClose     = "run.close"
	ActionSignalsPut   = "signals.put"
)

// Recorder writes decision records for audit trails.
type Recorder struct {
	sink RecordSink
}

// NewRecorder creates a new recorder.
func NewRecorder(sink RecordSink) *Recorder {
	return &Recorder{sink: sink}
}

// Record writes an entry for a state-mutating action. details is marshalled
// to JSON unless it is already a string.
func (r *Recorder) Record(ctx context.Context, action string, inputs any, outcome, storyID string, details any) (*models.DecisionRecord, error) {
	return r.sink.WriteDecisionRecord(ctx, action, HashInputs(inputs), outcome, storyID, encodeDetails(details))
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func encodeDetails(details any) string {
	switch d := details.(type) {
	case nil:
		return ""
	case string:
		return d
	}
	data, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(data)
}
