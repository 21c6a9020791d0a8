package controlplane

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fentz26/creatorloop/internal/audit"
	"github.com/fentz26/creatorloop/internal/economy"
	"github.com/fentz26/creatorloop/internal/logging"
	"github.com/fentz26/creatorloop/internal/models"
	"github.com/fentz26/creatorloop/internal/store"
)

type testClock struct {
	offset time.Duration
}

func (c *testClock) now() time.Time {
	return time.Now().Add(c.offset)
}

func newTestService(t *testing.T) (*Service, *store.Store, *testClock) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := &testClock{}
	svc := NewService(st, audit.NewRecorder(st), Options{Now: clock.now})
	return svc, st, clock
}

func ptr(s string) *string { return &s }

func strongSignals() models.StorySignals {
	return models.StorySignals{
		StoryID: "story-1",
		Autorun: true,
		IP:      models.IPReport{OverallScore: 82, RetentionPotentialScore: 74},
		Merch: models.MerchReport{
			OverallScore: 86,
			Candidates: []models.MerchCandidate{
				{ID: "poster", Title: "Poster", Channels: []string{"shop"}},
				{ID: "pin", Title: "Enamel pin", Channels: []string{"shop", "event"}},
			},
		},
		Roles: models.RoleBoard{Roster: []models.RosterEntry{
			{RoleID: "producer", OwnerUserID: ptr("u1"), Participants: []string{"u2"}},
			{RoleID: "merch_lead", OwnerUserID: ptr("u3")},
			{RoleID: "distribution_lead", OwnerUserID: ptr("u4")},
			{RoleID: "community_lead", OwnerUserID: ptr("u5")},
		}},
		Stats: models.StoryStats{RemixCount: 12, PageCount: 40},
	}
}

func seedStory(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.PutSignals(context.Background(), "moonfall", strongSignals())
	require.NoError(t, err)
}

// seedStaleRuns opens n manual runs and moves the clock so they are 48h old.
func seedStaleRuns(t *testing.T, svc *Service, clock *testClock, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		run, err := svc.CreateRun(context.Background(), "moonfall", CreateRunRequest{SprintObjective: economy.SprintGrowCommunity, ActorUserID: "u1"})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	clock.offset = 48 * time.Hour
	return ids
}

func TestPutSignalsValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	bad := strongSignals()
	bad.IP.OverallScore = 140
	_, err := svc.PutSignals(ctx, "moonfall", bad)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ip.overallScore", verr.Field)

	dup := strongSignals()
	dup.Merch.Candidates = append(dup.Merch.Candidates, models.MerchCandidate{ID: "pin"})
	_, err = svc.PutSignals(ctx, "moonfall", dup)
	require.ErrorAs(t, err, &verr)

	mismatch := strongSignals()
	mismatch.StorySlug = "other"
	_, err = svc.PutSignals(ctx, "moonfall", mismatch)
	require.ErrorAs(t, err, &verr)

	_, err = svc.GetSignals(ctx, "moonfall")
	assert.ErrorIs(t, err, ErrStoryNotFound)
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh story plans autorun runs", func(t *testing.T) {
		svc, st, _ := newTestService(t)
		seedStory(t, svc)

		resp, err := svc.Decide(ctx, "moonfall", DecideRequest{})
		require.NoError(t, err)

		assert.NotEmpty(t, resp.RequestID)
		assert.False(t, resp.BlockedByGovernance)
		assert.Equal(t, economy.GovernanceWatch, resp.Governance.Status)
		require.NotEmpty(t, resp.Executed)
		assert.LessOrEqual(t, len(resp.Executed), resp.DecisionPolicy.MaxActionsPerCycle)
		assert.Nil(t, resp.OutcomeAgentPlan)

		runs, err := st.ListRuns(ctx, "story-1", 0)
		require.NoError(t, err)
		require.Len(t, runs, len(resp.Executed))
		require.Len(t, resp.History, len(runs))
		for i, action := range resp.Executed {
			assert.Equal(t, ExecutionPlanned, action.Status)
			require.NotNil(t, action.RunID)
			run, err := st.GetRun(ctx, *action.RunID)
			require.NoError(t, err)
			assert.Equal(t, models.PlanSourceAutorun, run.Plan.Source)
			assert.Equal(t, action.RecommendationID, run.Plan.ExecutedRecommendationID())
			assert.Equal(t, resp.RequestID, run.Plan.Autorun.DecisionID)
			assert.Equal(t, "autorun", run.CreatedByUserID)
			assert.NotNil(t, run.BaselineMetrics)
			assert.Equal(t, resp.Executed[i].SprintObjective, run.SprintObjective)
		}

		// every backlog item is either executed or skipped
		assert.Len(t, resp.Backlog.Items, len(resp.Executed)+len(resp.Skipped))

		records, err := st.ListDecisionRecords(ctx, "story-1", 0)
		require.NoError(t, err)
		require.NotEmpty(t, records)
		assert.Equal(t, audit.ActionDecide, records[0].Action)
		assert.True(t, strings.HasPrefix(records[0].Outcome, "executed:"))

		due, err := svc.Due(ctx, "story-1")
		require.NoError(t, err)
		assert.False(t, due)
	})

	t.Run("second cycle respects cooldown", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		seedStory(t, svc)

		first, err := svc.Decide(ctx, "moonfall", DecideRequest{})
		require.NoError(t, err)
		second, err := svc.Decide(ctx, "moonfall", DecideRequest{})
		require.NoError(t, err)

		executed := map[string]bool{}
		for _, a := range first.Executed {
			executed[a.RecommendationID] = true
		}
		for _, a := range second.Executed {
			assert.False(t, executed[a.RecommendationID], "%s executed twice inside its cooldown", a.RecommendationID)
		}
		for _, item := range second.Backlog.Items {
			if executed[item.RecommendationID] {
				assert.Equal(t, economy.BacklogCooldown, item.Status)
			}
		}
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		svc, st, _ := newTestService(t)
		seedStory(t, svc)

		resp, err := svc.Decide(ctx, "moonfall", DecideRequest{DryRun: true, MaxActions: 1})
		require.NoError(t, err)
		require.Len(t, resp.Executed, 1)
		assert.Equal(t, ExecutionDryRun, resp.Executed[0].Status)
		assert.Nil(t, resp.Executed[0].RunID)

		runs, err := st.ListRuns(ctx, "story-1", 0)
		require.NoError(t, err)
		assert.Empty(t, runs)
		_, ok, err := st.GetKV(ctx, "strategy:story-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("persist false keeps history untouched", func(t *testing.T) {
		svc, st, clock := newTestService(t)
		seedStory(t, svc)
		ids := seedStaleRuns(t, svc, clock, 2)
		before, err := st.ListDecisionRecords(ctx, "story-1", 0)
		require.NoError(t, err)

		no := false
		resp, err := svc.Decide(ctx, "moonfall", DecideRequest{
			Persist:      &no,
			OutcomeAgent: &OutcomeAgentRequest{Enabled: true, Apply: true},
		})
		require.NoError(t, err)
		for _, a := range resp.Executed {
			assert.Equal(t, ExecutionDryRun, a.Status)
			assert.Nil(t, a.RunID)
		}
		require.NotNil(t, resp.OutcomeAgentPlan)
		assert.NotEmpty(t, resp.OutcomeAgentPlan.Selected)
		assert.Empty(t, resp.OutcomeAgentPlan.Applied)

		runs, err := st.ListRuns(ctx, "story-1", 0)
		require.NoError(t, err)
		assert.Len(t, runs, len(ids))
		for _, run := range runs {
			assert.False(t, run.Completed(), "run %s should stay open", run.ID)
		}
		after, err := st.ListDecisionRecords(ctx, "story-1", 0)
		require.NoError(t, err)
		assert.Len(t, after, len(before))

		due, err := svc.Due(ctx, "story-1")
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("overrides and limits", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		seedStory(t, svc)

		resp, err := svc.Decide(ctx, "moonfall", DecideRequest{
			Mode:            "assist",
			MaxActions:      1,
			SprintObjective: economy.SprintGrowCommunity,
			HorizonDays:     10,
			ActorUserID:     "u9",
		})
		require.NoError(t, err)
		assert.Equal(t, models.ModeAssist, resp.Mode)
		require.Len(t, resp.Executed, 1)
		assert.Equal(t, economy.SprintGrowCommunity, resp.Executed[0].SprintObjective)
		assert.Equal(t, 10, resp.Executed[0].HorizonDays)
	})

	t.Run("governance pause blocks unless forced", func(t *testing.T) {
		svc, st, clock := newTestService(t)
		seedStory(t, svc)
		seedStaleRuns(t, svc, clock, 4)

		resp, err := svc.Decide(ctx, "moonfall", DecideRequest{})
		require.NoError(t, err)
		assert.Equal(t, economy.GovernancePaused, resp.Governance.Status)
		assert.True(t, resp.BlockedByGovernance)
		assert.Empty(t, resp.Executed)
		assert.Equal(t, economy.ObjectiveStabilize, resp.Objective)

		blocked := 0
		for _, s := range resp.Skipped {
			if s.Reason == "governance paused autorun" {
				blocked++
			}
		}
		assert.Equal(t, 1, blocked)

		runs, err := st.ListRuns(ctx, "story-1", 0)
		require.NoError(t, err)
		assert.Len(t, runs, 4)

		forced, err := svc.Decide(ctx, "moonfall", DecideRequest{Force: true})
		require.NoError(t, err)
		assert.False(t, forced.BlockedByGovernance)
		assert.Len(t, forced.Executed, 1)
	})

	t.Run("outcome agent closes stale runs", func(t *testing.T) {
		svc, st, clock := newTestService(t)
		seedStory(t, svc)
		ids := seedStaleRuns(t, svc, clock, 4)

		resp, err := svc.Decide(ctx, "moonfall", DecideRequest{
			OutcomeAgent: &OutcomeAgentRequest{Enabled: true, Apply: true},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.OutcomeAgentPlan)
		assert.Len(t, resp.OutcomeAgentPlan.Candidates, 4)
		require.Len(t, resp.OutcomeAgentPlan.Applied, 3)

		for _, id := range resp.OutcomeAgentPlan.Applied {
			assert.Contains(t, ids, id)
			run, err := st.GetRun(ctx, id)
			require.NoError(t, err)
			assert.True(t, run.Completed())
			require.NotNil(t, run.OutcomeNotes)
			assert.True(t, strings.HasPrefix(*run.OutcomeNotes, "outcome-agent:"))
			require.NotNil(t, run.OutcomeDecision)
			assert.Equal(t, models.DecisionIterate, *run.OutcomeDecision)
		}
	})

	t.Run("outcome agent plan only", func(t *testing.T) {
		svc, st, clock := newTestService(t)
		seedStory(t, svc)
		seedStaleRuns(t, svc, clock, 2)

		resp, err := svc.Decide(ctx, "moonfall", DecideRequest{
			DryRun:       true,
			OutcomeAgent: &OutcomeAgentRequest{Enabled: true, Apply: true, MaxRuns: 1},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.OutcomeAgentPlan)
		assert.Len(t, resp.OutcomeAgentPlan.Selected, 1)
		assert.Empty(t, resp.OutcomeAgentPlan.Applied)

		runs, err := st.ListRuns(ctx, "story-1", 0)
		require.NoError(t, err)
		for _, run := range runs {
			assert.False(t, run.Completed())
		}
	})

	t.Run("lock contention", func(t *testing.T) {
		svc, st, _ := newTestService(t)
		seedStory(t, svc)

		_, err := st.AcquireLock(ctx, "economy:story-1", "other-process", "decision", time.Minute)
		require.NoError(t, err)

		_, err = svc.Decide(ctx, "moonfall", DecideRequest{})
		assert.ErrorIs(t, err, ErrDecisionInProgress)

		// dry runs never take the lock
		_, err = svc.Decide(ctx, "moonfall", DecideRequest{DryRun: true})
		assert.NoError(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		seedStory(t, svc)

		cases := []DecideRequest{
			{Mode: "yolo"},
			{HorizonDays: 2},
			{HorizonDays: 31},
			{MaxActions: 6},
			{Objective: "world_domination"},
			{SprintObjective: "nap"},
			{MerchCandidateID: "mug"},
			{OwnerOverrides: map[string]string{"rec_unknown": "producer"}},
			{OutcomeAgent: &OutcomeAgentRequest{Enabled: true, MaxRuns: 50}},
		}
		for _, req := range cases {
			_, err := svc.Decide(ctx, "moonfall", req)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected validation error for %+v, got %v", req, err)
		}

		_, err := svc.Decide(ctx, "unknown", DecideRequest{})
		assert.ErrorIs(t, err, ErrStoryNotFound)
	})
}

func TestStrategyAnchorPersists(t *testing.T) {
	svc, _, clock := newTestService(t)
	seedStory(t, svc)
	ctx := context.Background()

	first, err := svc.Decide(ctx, "moonfall", DecideRequest{})
	require.NoError(t, err)

	clock.offset = time.Hour
	second, err := svc.Decide(ctx, "moonfall", DecideRequest{DryRun: true})
	require.NoError(t, err)
	assert.True(t, first.Strategy.AnchorAt.Equal(second.Strategy.AnchorAt), "anchor should hold inside the horizon")

	clock.offset = time.Duration(economy.StrategyCycles*first.Strategy.CadenceHours)*time.Hour + time.Minute
	due, err := svc.Due(ctx, "story-1")
	require.NoError(t, err)
	assert.True(t, due)
	third, err := svc.Decide(ctx, "moonfall", DecideRequest{DryRun: true})
	require.NoError(t, err)
	assert.True(t, third.Strategy.AnchorAt.After(first.Strategy.AnchorAt), "anchor should renew once the horizon elapsed")
	assert.True(t, first.AnchorRenewed)
	assert.False(t, second.AnchorRenewed)
	assert.True(t, third.AnchorRenewed)
}

func TestAnchorRenewalIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := logging.L()
	logging.SetGlobal(zap.New(core))
	t.Cleanup(func() { logging.SetGlobal(prev) })

	svc, _, clock := newTestService(t)
	seedStory(t, svc)
	ctx := context.Background()

	first, err := svc.Decide(ctx, "moonfall", DecideRequest{})
	require.NoError(t, err)
	clock.offset = time.Hour
	_, err = svc.Decide(ctx, "moonfall", DecideRequest{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("strategy anchor renewed").Len())

	clock.offset = time.Duration(economy.StrategyCycles*first.Strategy.CadenceHours)*time.Hour + time.Minute
	_, err = svc.Decide(ctx, "moonfall", DecideRequest{DryRun: true})
	require.NoError(t, err)

	renewed := logs.FilterMessage("strategy anchor renewed").All()
	require.Len(t, renewed, 1)
	fields := renewed[0].ContextMap()
	assert.Equal(t, "moonfall", fields["story"])
	assert.Equal(t, int64(first.Strategy.CadenceHours), fields["previous_cadence_hours"])
	previous, ok := fields["previous_anchor"].(time.Time)
	require.True(t, ok)
	assert.True(t, previous.Equal(first.Strategy.AnchorAt))
}

func TestScheduledDecisionRechecksCadenceUnderLock(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStory(t, svc)
	ctx := context.Background()

	_, err := svc.Decide(ctx, "moonfall", DecideRequest{})
	require.NoError(t, err)
	runs, err := st.ListRuns(ctx, "story-1", 0)
	require.NoError(t, err)

	// another scheduler passed the due check before this decision landed
	_, err = svc.Decide(ctx, "moonfall", DecideRequest{onlyIfDue: true})
	assert.ErrorIs(t, err, errNotDue)

	again, err := st.ListRuns(ctx, "story-1", 0)
	require.NoError(t, err)
	assert.Len(t, again, len(runs))
}

func TestConcurrentDecideDueRunsOnce(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStory(t, svc)
	ctx := context.Background()
	signals, err := svc.GetSignals(ctx, "moonfall")
	require.NoError(t, err)

	const callers = 4
	var (
		wg  sync.WaitGroup
		ran atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.DecideDue(ctx, *signals, DecideRequest{ActorUserID: "scheduler"})
			if errors.Is(err, ErrDecisionInProgress) {
				return
			}
			assert.NoError(t, err)
			if ok {
				ran.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ran.Load())
	records, err := st.ListDecisionRecords(ctx, "story-1", 0)
	require.NoError(t, err)
	decides := 0
	for _, r := range records {
		if r.Action == audit.ActionDecide {
			decides++
		}
	}
	assert.Equal(t, 1, decides)
}

func TestRunsUseServiceClock(t *testing.T) {
	svc, _, clock := newTestService(t)
	seedStory(t, svc)
	ctx := context.Background()

	clock.offset = -72 * time.Hour
	run, err := svc.CreateRun(ctx, "moonfall", CreateRunRequest{SprintObjective: economy.SprintGrowCommunity, ActorUserID: "u1"})
	require.NoError(t, err)
	assert.WithinDuration(t, clock.now(), run.CreatedAt, time.Minute)

	clock.offset = -24 * time.Hour
	closed, err := svc.CloseRun(ctx, run.ID, CloseRunRequest{Decision: models.DecisionScale})
	require.NoError(t, err)
	require.NotNil(t, closed.CompletedAt)
	assert.WithinDuration(t, clock.now(), *closed.CompletedAt, time.Minute)
}

func TestCreateAndCloseRun(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStory(t, svc)
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "moonfall", CreateRunRequest{RecommendationID: "rec_launch_merch_drop", ActorUserID: "u1", Mode: "assist"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanSourceAutomation, run.Plan.Source)
	assert.Equal(t, economy.SprintShipNextDrop, run.SprintObjective)
	assert.Equal(t, 21, run.HorizonDays)

	_, err = svc.CreateRun(ctx, "moonfall", CreateRunRequest{RecommendationID: "rec_strengthen_ip"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr, "strong IP does not trigger rec_strengthen_ip")

	_, err = svc.CreateRun(ctx, "moonfall", CreateRunRequest{})
	assert.ErrorAs(t, err, &verr)

	started, err := svc.StartRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusInProgress, started.Status)

	_, err = svc.CloseRun(ctx, run.ID, CloseRunRequest{Decision: "maybe"})
	assert.ErrorAs(t, err, &verr)

	closed, err := svc.CloseRun(ctx, run.ID, CloseRunRequest{Decision: models.DecisionScale, Notes: "sold out"})
	require.NoError(t, err)
	assert.True(t, closed.Completed())
	require.NotNil(t, closed.OutcomeMetrics, "current baseline is recorded when metrics are omitted")

	_, err = svc.CloseRun(ctx, run.ID, CloseRunRequest{Decision: models.DecisionHold})
	assert.ErrorIs(t, err, ErrRunAlreadyCompleted)
	_, err = svc.CloseRun(ctx, "missing", CloseRunRequest{Decision: models.DecisionHold})
	assert.ErrorIs(t, err, ErrRunNotFound)

	records, err := st.ListDecisionRecords(ctx, "story-1", 0)
	require.NoError(t, err)
	actions := map[string]bool{}
	for _, r := range records {
		actions[r.Action] = true
	}
	assert.True(t, actions[audit.ActionRunCreate])
	assert.True(t, actions[audit.ActionRunClose])
	assert.True(t, actions[audit.ActionSignalsPut])
}
