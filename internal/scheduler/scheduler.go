package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/creatorloop/internal/controlplane"
	"github.com/fentz26/creatorloop/internal/logging"
	"github.com/fentz26/creatorloop/internal/models"
	"github.com/fentz26/creatorloop/internal/requestctx"
)

// Decider is the part of the control plane the scheduler drives.
type Decider interface {
	ListSignals(ctx context.Context, autorunOnly bool) ([]models.StorySignals, error)
	DecideDue(ctx context.Context, signals models.StorySignals, req controlplane.DecideRequest) (*controlplane.DecideResponse, bool, error)
}

// Stats counts scheduler outcomes since start.
type Stats struct {
	Ticks     int `json:"ticks"`
	Decided   int `json:"decided"`
	NotDue    int `json:"notDue"`
	Contended int `json:"contended"`
	Failed    int `json:"failed"`
}

// Scheduler runs due autorun decisions on every poll.
type Scheduler struct {
	decider Decider
	config  *Config

	mu    sync.Mutex
	stats Stats

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(d Decider, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		decider: d,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	logging.L().Info("scheduler started",
		zap.Duration("poll_interval", sch.config.PollInterval),
		zap.Int("max_concurrent_stories", sch.config.concurrency()),
	)
}

// Stop gracefully stops the scheduler and waits for in-flight decisions.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	logging.L().Info("scheduler stopped")
}

// schedulerLoop ticks once immediately, then on every poll interval.
func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	interval := sch.config.PollInterval
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sch.Tick(sch.ctx)
	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.Tick(sch.ctx)
		}
	}
}

// Tick decides every due autorun story, at most MaxConcurrentStories at a
// time. A failing story is logged and does not stop the others.
func (sch *Scheduler) Tick(ctx context.Context) {
	log := logging.L()

	stories, err := sch.decider.ListSignals(ctx, true)
	if err != nil {
		log.Error("list autorun stories", zap.Error(err))
		sch.count(func(s *Stats) { s.Ticks++; s.Failed++ })
		return
	}
	sch.count(func(s *Stats) { s.Ticks++ })

	g := new(errgroup.Group)
	g.SetLimit(sch.config.concurrency())
	for _, story := range stories {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sch.decide(ctx, story)
			return nil
		})
	}
	_ = g.Wait()
}

func (sch *Scheduler) decide(ctx context.Context, story models.StorySignals) {
	ctx, requestID := requestctx.EnsureRequestID(ctx)
	log := logging.ForStory(logging.L(), story.StorySlug).With(zap.String("request_id", requestID))

	req := controlplane.DecideRequest{Mode: sch.config.Mode, ActorUserID: "scheduler"}
	if sch.config.OutcomeAgent {
		req.OutcomeAgent = &controlplane.OutcomeAgentRequest{Enabled: true, Apply: sch.config.ApplyOutcomes}
	}

	resp, ran, err := sch.decider.DecideDue(ctx, story, req)
	switch {
	case errors.Is(err, controlplane.ErrDecisionInProgress):
		log.Debug("decision already running elsewhere")
		sch.count(func(s *Stats) { s.Contended++ })
	case err != nil:
		log.Error("scheduled decision failed", zap.Error(err))
		sch.count(func(s *Stats) { s.Failed++ })
	case !ran:
		sch.count(func(s *Stats) { s.NotDue++ })
	default:
		log.Info("scheduled decision",
			zap.Bool("blocked_by_governance", resp.BlockedByGovernance),
			zap.Int("executed", len(resp.Executed)),
		)
		sch.count(func(s *Stats) { s.Decided++ })
	}
}

func (sch *Scheduler) count(fn func(*Stats)) {
	sch.mu.Lock()
	fn(&sch.stats)
	sch.mu.Unlock()
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.stats
}
