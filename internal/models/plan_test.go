package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanJSON(t *testing.T) {
	tests := []struct {
		name     string
		plan     Plan
		wantRec  string
		wantMode AutonomyMode
	}{
		{"automation", NewAutomationPlan(AutomationPlan{RecommendationID: "rec_a", AutonomyMode: ModeAssist}), "rec_a", ModeAssist},
		{"backlog", NewBacklogPlan(BacklogPlan{RecommendationID: "rec_b", Score: 92}), "rec_b", ""},
		{"autorun", NewAutorunPlan(AutorunPlan{RecommendationID: "rec_c", AutonomyMode: ModeAuto, MerchChannels: []string{"shop"}}), "rec_c", ModeAuto},
		{"manual", NewManualPlan(ManualPlan{Notes: "by hand"}), "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.plan)
			require.NoError(t, err)

			var fields map[string]any
			require.NoError(t, json.Unmarshal(data, &fields))
			assert.Equal(t, string(tt.plan.Source), fields["source"])

			var got Plan
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.plan, got)
			assert.Equal(t, tt.wantRec, got.ExecutedRecommendationID())
			assert.Equal(t, tt.wantMode, got.AutonomyMode())
		})
	}
}

func TestPlanUnknownSource(t *testing.T) {
	raw := `{"source":"legacy_import","executedRecommendationId":"rec_x"}`

	var p Plan
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, PlanSourceManual, p.Source)
	require.NotNil(t, p.Manual)
	assert.JSONEq(t, raw, string(p.Manual.Raw))
	assert.Empty(t, p.ExecutedRecommendationID())
	assert.False(t, p.Source.Recognized())
}

func TestPlanNull(t *testing.T) {
	var p Plan
	require.NoError(t, json.Unmarshal([]byte("null"), &p))
	assert.Equal(t, PlanSourceManual, p.Source)

	var wrapper struct {
		Plan Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"plan":{}}`), &wrapper))
	assert.Equal(t, PlanSourceManual, wrapper.Plan.Source)
}

func TestRunSummary(t *testing.T) {
	d := DecisionScale
	run := Run{
		ID:              "run-1",
		Status:          RunStatusCompleted,
		Plan:            NewAutorunPlan(AutorunPlan{RecommendationID: "rec_a"}),
		OutcomeDecision: &d,
	}
	s := run.Summary()
	assert.Equal(t, PlanSourceAutorun, s.Source)
	assert.Equal(t, "rec_a", s.ExecutedRecommendationID)
	assert.True(t, run.Completed())
	assert.False(t, RunStatus("paused").Valid())
}
