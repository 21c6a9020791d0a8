// Package controlplane provides the HTTP API and service layer for creatorloop.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/creatorloop/internal/audit"
	"github.com/fentz26/creatorloop/internal/economy"
	"github.com/fentz26/creatorloop/internal/logging"
	"github.com/fentz26/creatorloop/internal/models"
	"github.com/fentz26/creatorloop/internal/store"
)

// Options tunes the service.
type Options struct {
	// LockTTL bounds how long a decision holds the per-story lock.
	LockTTL time.Duration
	// OutcomeAgent holds defaults for requests that enable the outcome agent
	// without tuning it.
	OutcomeAgent economy.OutcomeAgentOptions
	// HolderID identifies this process in lock rows.
	HolderID string
	// Now overrides the clock.
	Now func() time.Time
}

// Service provides the control plane business logic.
type Service struct {
	store    *store.Store
	recorder *audit.Recorder
	opts     Options
}

// NewService creates a new control plane service.
func NewService(s *store.Store, recorder *audit.Recorder, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 120 * time.Second
	}
	if opts.OutcomeAgent.StaleAfterHours <= 0 {
		opts.OutcomeAgent.StaleAfterHours = economy.DefaultStaleAfterHours
	}
	if opts.OutcomeAgent.MaxRuns <= 0 {
		opts.OutcomeAgent.MaxRuns = economy.DefaultOutcomeMaxRuns
	}
	if opts.HolderID == "" {
		opts.HolderID = "creatorloop"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: s, recorder: recorder, opts: opts}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// record writes an audit entry. A failed write is logged, never returned:
// the state change it describes has already been committed.
func (s *Service) record(ctx context.Context, action string, inputs any, outcome, storyID string, details any) {
	if _, err := s.recorder.Record(ctx, action, inputs, outcome, storyID, details); err != nil {
		logging.FromContext(ctx).Warn("write decision record", zap.String("action", action), zap.Error(err))
	}
}

// --- Signals ---

// PutSignals registers or replaces a story's upstream report outputs.
func (s *Service) PutSignals(ctx context.Context, slug string, signals models.StorySignals) (*models.StorySignals, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, invalid("slug", "is required")
	}
	if signals.StorySlug != "" && signals.StorySlug != slug {
		return nil, invalid("storySlug", "does not match the path")
	}
	signals.StorySlug = slug
	if err := validateSignals(signals); err != nil {
		return nil, err
	}

	saved, err := s.store.PutSignals(ctx, signals)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionSignalsPut, signals, "success", saved.StoryID, "")
	return saved, nil
}

// GetSignals returns a story's signals or ErrStoryNotFound.
func (s *Service) GetSignals(ctx context.Context, slug string) (*models.StorySignals, error) {
	signals, err := s.store.GetSignals(ctx, slug)
	if err != nil {
		return nil, err
	}
	if signals == nil {
		return nil, ErrStoryNotFound
	}
	return signals, nil
}

// ListSignals returns every registered story.
func (s *Service) ListSignals(ctx context.Context, autorunOnly bool) ([]models.StorySignals, error) {
	return s.store.ListSignals(ctx, autorunOnly)
}

func validateSignals(sig models.StorySignals) error {
	if sig.IP.OverallScore < 0 || sig.IP.OverallScore > 100 {
		return invalid("ip.overallScore", "must be within [0, 100]")
	}
	if sig.IP.RetentionPotentialScore < 0 || sig.IP.RetentionPotentialScore > 100 {
		return invalid("ip.retentionPotentialScore", "must be within [0, 100]")
	}
	if sig.Merch.OverallScore < 0 || sig.Merch.OverallScore > 100 {
		return invalid("merch.overallScore", "must be within [0, 100]")
	}
	seen := map[string]bool{}
	for _, c := range sig.Merch.Candidates {
		if c.ID == "" {
			return invalid("merch.candidates", "candidate id is required")
		}
		if seen[c.ID] {
			return invalid("merch.candidates", "duplicate candidate id %q", c.ID)
		}
		seen[c.ID] = true
	}
	roles := map[string]bool{}
	for _, r := range sig.Roles.Roster {
		if r.RoleID == "" {
			return invalid("roles.roster", "role id is required")
		}
		if roles[r.RoleID] {
			return invalid("roles.roster", "duplicate role id %q", r.RoleID)
		}
		roles[r.RoleID] = true
	}
	if sig.Stats.RemixCount < 0 || sig.Stats.PageCount < 0 {
		return invalid("stats", "counts must be non-negative")
	}
	return nil
}

// --- Runs ---

// ListRuns returns a story's run history, newest first.
func (s *Service) ListRuns(ctx context.Context, slug string, limit int) ([]models.Run, error) {
	signals, err := s.GetSignals(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, signals.StoryID, limit)
}

// CreateRunRequest starts a run by hand. With a RecommendationID the run
// executes that recommendation from the story's current automation plan;
// without one it is a manual run.
type CreateRunRequest struct {
	RecommendationID string            `json:"recommendationId,omitempty"`
	SprintObjective  string            `json:"sprintObjective,omitempty"`
	HorizonDays      int               `json:"horizonDays,omitempty"`
	OwnerOverrides   map[string]string `json:"ownerOverrides,omitempty"`
	MerchCandidateID string            `json:"merchCandidateId,omitempty"`
	Mode             string            `json:"mode,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	ActorUserID      string            `json:"actorUserId,omitempty"`
}

// CreateRun records an operator-started run.
func (s *Service) CreateRun(ctx context.Context, slug string, req CreateRunRequest) (*models.Run, error) {
	if req.SprintObjective != "" && !validSprintObjective(req.SprintObjective) {
		return nil, invalid("sprintObjective", "unknown sprint objective %q", req.SprintObjective)
	}
	if req.HorizonDays != 0 && (req.HorizonDays < 3 || req.HorizonDays > 30) {
		return nil, invalid("horizonDays", "must be within [3, 30]")
	}
	mode := models.AutonomyMode(req.Mode)
	if req.Mode != "" && !mode.Valid() {
		return nil, invalid("mode", "must be manual, assist, or auto")
	}

	signals, err := s.GetSignals(ctx, slug)
	if err != nil {
		return nil, err
	}

	operating := economy.BuildOperatingPlan(*signals)
	baseline := operating.Baseline
	nr := store.NewRun{
		StoryID:         signals.StoryID,
		CreatedByUserID: req.ActorUserID,
		SprintObjective: req.SprintObjective,
		HorizonDays:     req.HorizonDays,
		BaselineMetrics: &baseline,
		CreatedAt:       s.now(),
	}

	if req.RecommendationID == "" {
		if nr.SprintObjective == "" {
			return nil, invalid("sprintObjective", "is required without a recommendationId")
		}
		if nr.HorizonDays == 0 {
			nr.HorizonDays = 14
		}
		nr.Plan = models.NewManualPlan(models.ManualPlan{Notes: req.Notes})
	} else {
		runs, err := s.store.ListRuns(ctx, signals.StoryID, 0)
		if err != nil {
			return nil, err
		}
		idle, hasHistory := economy.IdleHours(runs, s.now())
		opts := economy.AutomationOptions{
			IdleHours:        idle,
			HasHistory:       hasHistory,
			OwnerOverrides:   req.OwnerOverrides,
			MerchCandidateID: req.MerchCandidateID,
		}
		if err := economy.ValidateAutomationOptions(operating, opts); err != nil {
			return nil, invalid("", "%s", err.Error())
		}
		plan := economy.BuildAutomationPlan(operating, opts)
		rec, ok := findRecommendation(plan, req.RecommendationID)
		if !ok {
			return nil, invalid("recommendationId", "%q is not active for this story", req.RecommendationID)
		}
		if blocked, reason := plan.Blocked(rec.ID); blocked {
			return nil, fmt.Errorf("%w: %s", ErrRecommendationBlocked, reason)
		}
		if nr.SprintObjective == "" {
			nr.SprintObjective = rec.Execution.SprintObjective
		}
		if nr.HorizonDays == 0 {
			nr.HorizonDays = rec.Execution.HorizonDays
		}
		nr.Plan = models.NewAutomationPlan(models.AutomationPlan{
			RecommendationID: rec.ID,
			Title:            rec.Title,
			TriggerIDs:       rec.TriggerIDs,
			AutonomyMode:     mode,
		})
	}

	run, err := s.store.CreateRun(ctx, nr)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionRunCreate, req, "success", signals.StoryID, map[string]string{"runId": run.ID, "source": string(run.Plan.Source)})
	return run, nil
}

// StartRun moves a planned run to in_progress.
func (s *Service) StartRun(ctx context.Context, id string) (*models.Run, error) {
	if err := s.store.UpdateRunStatus(ctx, id, models.RunStatusInProgress); err != nil {
		return nil, err
	}
	return s.store.GetRun(ctx, id)
}

// CloseRunRequest records a run's outcome.
type CloseRunRequest struct {
	Decision models.OutcomeDecision  `json:"decision"`
	Metrics  *models.MetricsSnapshot `json:"metrics,omitempty"`
	Notes    string                  `json:"notes,omitempty"`
}

// CloseRun completes a run. Without explicit metrics the story's current
// baseline is recorded as the outcome.
func (s *Service) CloseRun(ctx context.Context, id string, req CloseRunRequest) (*models.Run, error) {
	if !req.Decision.Valid() {
		return nil, invalid("decision", "must be one of scale, iterate, hold, archive")
	}
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	if run.Completed() {
		return nil, ErrRunAlreadyCompleted
	}

	metrics := req.Metrics
	if metrics != nil {
		m := economy.NormalizeMetrics(metrics)
		metrics = &m
	} else if m, ok := s.baselineForStoryID(ctx, run.StoryID); ok {
		metrics = &m
	}

	closed, err := s.store.UpdateRunOutcome(ctx, id, store.RunOutcome{
		Decision:    req.Decision,
		Metrics:     metrics,
		Notes:       req.Notes,
		CompletedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionRunClose, req, string(req.Decision), closed.StoryID, map[string]string{"runId": id})
	return closed, nil
}

func (s *Service) baselineForStoryID(ctx context.Context, storyID string) (models.MetricsSnapshot, bool) {
	all, err := s.store.ListSignals(ctx, false)
	if err != nil {
		return models.MetricsSnapshot{}, false
	}
	for _, sig := range all {
		if sig.StoryID == storyID {
			return economy.BuildOperatingPlan(sig).Baseline, true
		}
	}
	return models.MetricsSnapshot{}, false
}

// ListDecisionRecords returns a story's audit trail, newest first.
func (s *Service) ListDecisionRecords(ctx context.Context, slug string, limit int) ([]models.DecisionRecord, error) {
	signals, err := s.GetSignals(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.store.ListDecisionRecords(ctx, signals.StoryID, limit)
}

// --- Strategy state ---

// strategyState is persisted under strategy:<storyID> between invocations.
type strategyState struct {
	AnchorAt     time.Time `json:"anchorAt"`
	CadenceHours int       `json:"cadenceHours"`
	DecidedAt    time.Time `json:"decidedAt"`
}

func strategyKey(storyID string) string {
	return "strategy:" + storyID
}

func (s *Service) loadStrategy(ctx context.Context, storyID string) (*strategyState, error) {
	raw, ok, err := s.store.GetKV(ctx, strategyKey(storyID))
	if err != nil || !ok {
		return nil, err
	}
	var st strategyState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		// a corrupt marker only loses the anchor
		logging.FromContext(ctx).Warn("discarding unreadable strategy state", zap.String("story_id", storyID), zap.Error(err))
		return nil, nil
	}
	return &st, nil
}

func (s *Service) saveStrategy(ctx context.Context, storyID string, st strategyState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode strategy state: %w", err)
	}
	return s.store.SetKV(ctx, strategyKey(storyID), string(data))
}

// Due reports whether a story's next cycle has opened: it has never been
// decided, or a full cadence has passed since the last decision.
func (s *Service) Due(ctx context.Context, storyID string) (bool, error) {
	st, err := s.loadStrategy(ctx, storyID)
	if err != nil {
		return false, err
	}
	if st == nil || st.DecidedAt.IsZero() {
		return true, nil
	}
	cadence := st.CadenceHours
	if cadence <= 0 {
		cadence = economy.CadenceLadder[len(economy.CadenceLadder)-1]
	}
	return !s.now().Before(st.DecidedAt.Add(time.Duration(cadence) * time.Hour)), nil
}

func findRecommendation(plan economy.AutomationPlan, id string) (economy.AutomationRecommendation, bool) {
	for _, rec := range plan.Recommendations {
		if rec.ID == id {
			return rec, true
		}
	}
	return economy.AutomationRecommendation{}, false
}

func validSprintObjective(v string) bool {
	for _, o := range economy.SprintObjectives {
		if o == v {
			return true
		}
	}
	return false
}
