package economy

import (
	"fmt"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func hoursAgo(h float64) time.Time {
	return testNow.Add(-time.Duration(h * float64(time.Hour)))
}

func strPtr(s string) *string { return &s }

func decisionPtr(d models.OutcomeDecision) *models.OutcomeDecision { return &d }

// openRun returns a planned run created h hours before testNow.
func openRun(id string, h float64) models.Run {
	created := hoursAgo(h)
	return models.Run{
		ID:              id,
		StoryID:         "story-1",
		SprintObjective: SprintShipNextDrop,
		HorizonDays:     7,
		Status:          models.RunStatusPlanned,
		Plan:            models.NewManualPlan(models.ManualPlan{}),
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

// closedRun returns a completed run created h hours ago and closed an hour later.
func closedRun(id string, h float64, d models.OutcomeDecision) models.Run {
	r := openRun(id, h)
	r.Status = models.RunStatusCompleted
	r.OutcomeDecision = decisionPtr(d)
	done := r.CreatedAt.Add(time.Hour)
	r.CompletedAt = &done
	r.UpdatedAt = done
	return r
}

func withDelta(r models.Run, base, out float64) models.Run {
	r.BaselineMetrics = &models.MetricsSnapshot{CombinedScore: base}
	r.OutcomeMetrics = &models.MetricsSnapshot{CombinedScore: out}
	return r
}

func withRecommendation(r models.Run, recID string, mode models.AutonomyMode) models.Run {
	r.Plan = models.NewAutorunPlan(models.AutorunPlan{RecommendationID: recID, AutonomyMode: mode})
	return r
}

// history builds completed runs where the first `positive` are scale and the rest archive.
func history(completed, positive int) []models.Run {
	runs := make([]models.Run, 0, completed)
	for i := 0; i < completed; i++ {
		d := models.DecisionArchive
		if i < positive {
			d = models.DecisionScale
		}
		runs = append(runs, closedRun(fmt.Sprintf("run-%d", i), float64(200+i), d))
	}
	return runs
}

func strongSignals() models.StorySignals {
	return models.StorySignals{
		StorySlug: "moonfall",
		StoryID:   "story-1",
		IP:        models.IPReport{OverallScore: 82, RetentionPotentialScore: 74},
		Merch: models.MerchReport{
			OverallScore: 86,
			Candidates: []models.MerchCandidate{
				{ID: "poster", Title: "Poster", Channels: []string{"shop"}},
				{ID: "pin", Title: "Enamel pin", Channels: []string{"shop", "event"}},
			},
		},
		Roles: models.RoleBoard{Roster: []models.RosterEntry{
			{RoleID: "producer", OwnerUserID: strPtr("u1"), Participants: []string{"u2"}},
			{RoleID: "merch_lead", OwnerUserID: strPtr("u3")},
			{RoleID: "distribution_lead", OwnerUserID: strPtr("u4")},
			{RoleID: "community_lead", OwnerUserID: strPtr("u5")},
		}},
		Stats: models.StoryStats{RemixCount: 12, PageCount: 40},
	}
}

func weakSignals() models.StorySignals {
	return models.StorySignals{
		StorySlug: "driftwood",
		StoryID:   "story-2",
		IP:        models.IPReport{OverallScore: 22, RetentionPotentialScore: 18},
		Merch:     models.MerchReport{OverallScore: 30},
		Roles: models.RoleBoard{Roster: []models.RosterEntry{
			{RoleID: "story_lead", OwnerUserID: nil},
			{RoleID: "producer", OwnerUserID: strPtr("u1")},
			{RoleID: "community_lead", OwnerUserID: nil},
		}},
	}
}
