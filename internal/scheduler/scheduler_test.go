package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fentz26/creatorloop/internal/audit"
	"github.com/fentz26/creatorloop/internal/controlplane"
	"github.com/fentz26/creatorloop/internal/models"
	"github.com/fentz26/creatorloop/internal/store"
)

// fakeDecider records calls and tracks peak concurrency.
type fakeDecider struct {
	stories []models.StorySignals
	delay   time.Duration
	errFor  map[string]error
	notDue  map[string]bool

	mu       sync.Mutex
	calls    []string
	requests []controlplane.DecideRequest
	active   atomic.Int32
	peak     atomic.Int32
}

func (f *fakeDecider) ListSignals(_ context.Context, autorunOnly bool) ([]models.StorySignals, error) {
	if !autorunOnly {
		return nil, errors.New("scheduler must only list autorun stories")
	}
	return f.stories, nil
}

func (f *fakeDecider) DecideDue(ctx context.Context, signals models.StorySignals, req controlplane.DecideRequest) (*controlplane.DecideResponse, bool, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, signals.StorySlug)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if err := f.errFor[signals.StorySlug]; err != nil {
		return nil, false, err
	}
	if f.notDue[signals.StorySlug] {
		return nil, false, nil
	}
	return &controlplane.DecideResponse{StorySlug: signals.StorySlug}, true, nil
}

func stories(n int) []models.StorySignals {
	out := make([]models.StorySignals, n)
	for i := range out {
		out[i] = models.StorySignals{StorySlug: fmt.Sprintf("story-%d", i), StoryID: fmt.Sprintf("story-%d", i), Autorun: true}
	}
	return out
}

func TestTickRespectsConcurrencyLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &fakeDecider{stories: stories(8), delay: 30 * time.Millisecond}
	sch := New(d, &Config{MaxConcurrentStories: 3, Mode: "auto"})

	sch.Tick(context.Background())

	assert.Len(t, d.calls, 8)
	assert.LessOrEqual(t, d.peak.Load(), int32(3))
	assert.Greater(t, d.peak.Load(), int32(1))
	assert.Equal(t, Stats{Ticks: 1, Decided: 8}, sch.GetStats())
	for _, req := range d.requests {
		assert.Equal(t, "auto", req.Mode)
		assert.Nil(t, req.OutcomeAgent)
	}
}

func TestTickCountsOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &fakeDecider{
		stories: stories(4),
		errFor: map[string]error{
			"story-0": controlplane.ErrDecisionInProgress,
			"story-1": errors.New("disk full"),
		},
		notDue: map[string]bool{"story-2": true},
	}
	cfg := DefaultConfig()
	cfg.ApplyOutcomes = true
	sch := New(d, cfg)

	sch.Tick(context.Background())

	assert.Equal(t, Stats{Ticks: 1, Decided: 1, NotDue: 1, Contended: 1, Failed: 1}, sch.GetStats())
	require.NotEmpty(t, d.requests)
	require.NotNil(t, d.requests[0].OutcomeAgent)
	assert.True(t, d.requests[0].OutcomeAgent.Enabled)
	assert.True(t, d.requests[0].OutcomeAgent.Apply)
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &fakeDecider{stories: stories(2), delay: 10 * time.Millisecond}
	sch := New(d, &Config{PollInterval: 20 * time.Millisecond, MaxConcurrentStories: 2})

	sch.Start()
	require.Eventually(t, func() bool { return sch.GetStats().Ticks >= 2 }, 2*time.Second, 5*time.Millisecond)
	sch.Stop()

	stats := sch.GetStats()
	assert.GreaterOrEqual(t, stats.Decided, 2)
}

func TestSchedulerDrivesDecisionLoop(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	svc := controlplane.NewService(st, audit.NewRecorder(st), controlplane.Options{})
	owner := "u1"
	_, err = svc.PutSignals(ctx, "moonfall", models.StorySignals{
		StoryID: "story-1",
		Autorun: true,
		IP:      models.IPReport{OverallScore: 82, RetentionPotentialScore: 74},
		Merch:   models.MerchReport{OverallScore: 86, Candidates: []models.MerchCandidate{{ID: "poster", Title: "Poster", Channels: []string{"shop"}}}},
		Roles: models.RoleBoard{Roster: []models.RosterEntry{
			{RoleID: "producer", OwnerUserID: &owner},
			{RoleID: "merch_lead", OwnerUserID: &owner},
			{RoleID: "distribution_lead", OwnerUserID: &owner},
			{RoleID: "community_lead", OwnerUserID: &owner},
		}},
		Stats: models.StoryStats{RemixCount: 12, PageCount: 40},
	})
	require.NoError(t, err)
	_, err = svc.PutSignals(ctx, "driftwood", models.StorySignals{StoryID: "story-2"})
	require.NoError(t, err)

	sch := New(svc, DefaultConfig())
	sch.Tick(ctx)

	runs, err := st.ListRuns(ctx, "story-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	for _, run := range runs {
		assert.Equal(t, models.PlanSourceAutorun, run.Plan.Source)
		assert.Equal(t, "scheduler", run.CreatedByUserID)
	}

	// driftwood is not opted into autorun
	other, err := st.ListRuns(ctx, "story-2", 0)
	require.NoError(t, err)
	assert.Empty(t, other)

	// the next cycle is not due yet
	sch.Tick(ctx)
	again, err := st.ListRuns(ctx, "story-1", 0)
	require.NoError(t, err)
	assert.Len(t, again, len(runs))
	assert.Equal(t, Stats{Ticks: 2, Decided: 1, NotDue: 1}, sch.GetStats())
}
