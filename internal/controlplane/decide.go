package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fentz26/creatorloop/internal/audit"
	"github.com/fentz26/creatorloop/internal/economy"
	"github.com/fentz26/creatorloop/internal/logging"
	"github.com/fentz26/creatorloop/internal/models"
	"github.com/fentz26/creatorloop/internal/requestctx"
	"github.com/fentz26/creatorloop/internal/store"
)

// historyLimit caps the history returned with a decision.
const historyLimit = 20

// OutcomeAgentRequest enables the stale-run outcome agent for one decision.
type OutcomeAgentRequest struct {
	Enabled         bool    `json:"enabled"`
	Apply           bool    `json:"apply"`
	StaleAfterHours float64 `json:"staleAfterHours,omitempty"`
	MaxRuns         int     `json:"maxRuns,omitempty"`
}

// DecideRequest is one invocation of the decision loop.
type DecideRequest struct {
	Mode             string               `json:"mode,omitempty"`
	SprintObjective  string               `json:"sprintObjective,omitempty"`
	HorizonDays      int                  `json:"horizonDays,omitempty"`
	MaxActions       int                  `json:"maxActions,omitempty"`
	OwnerOverrides   map[string]string    `json:"ownerOverrides,omitempty"`
	MerchCandidateID string               `json:"merchCandidateId,omitempty"`
	Objective        string               `json:"objective,omitempty"`
	CadenceHours     int                  `json:"cadenceHours,omitempty"`
	Persist          *bool                `json:"persist,omitempty"`
	DryRun           bool                 `json:"dryRun,omitempty"`
	Force            bool                 `json:"force,omitempty"`
	OutcomeAgent     *OutcomeAgentRequest `json:"outcomeAgent,omitempty"`
	ActorUserID      string               `json:"actorUserId,omitempty"`

	// onlyIfDue makes Decide re-check the cadence once the story lock is held.
	onlyIfDue bool
}

// errNotDue is returned by Decide for scheduled requests whose cycle another
// decider already ran.
var errNotDue = errors.New("decision cycle not due")

func (r DecideRequest) persist() bool {
	return (r.Persist == nil || *r.Persist) && !r.DryRun
}

// Validate checks the request fields that do not depend on story state.
func (r DecideRequest) Validate() error {
	if r.Mode != "" && !models.AutonomyMode(r.Mode).Valid() {
		return invalid("mode", "must be manual, assist, or auto")
	}
	if r.SprintObjective != "" && !validSprintObjective(r.SprintObjective) {
		return invalid("sprintObjective", "unknown sprint objective %q", r.SprintObjective)
	}
	if r.HorizonDays != 0 && (r.HorizonDays < 3 || r.HorizonDays > 30) {
		return invalid("horizonDays", "must be within [3, 30]")
	}
	if r.MaxActions != 0 && (r.MaxActions < economy.MinActions || r.MaxActions > economy.MaxActions) {
		return invalid("maxActions", "must be within [%d, %d]", economy.MinActions, economy.MaxActions)
	}
	if r.Objective != "" && !economy.Objective(r.Objective).Valid() {
		return invalid("objective", "must be stabilize, balanced, or growth")
	}
	if r.CadenceHours != 0 && (r.CadenceHours < 1 || r.CadenceHours > 72) {
		return invalid("cadenceHours", "must be within [1, 72]")
	}
	if oa := r.OutcomeAgent; oa != nil {
		if oa.StaleAfterHours != 0 && (oa.StaleAfterHours < 1 || oa.StaleAfterHours > 720) {
			return invalid("outcomeAgent.staleAfterHours", "must be within [1, 720]")
		}
		if oa.MaxRuns != 0 && (oa.MaxRuns < 1 || oa.MaxRuns > 10) {
			return invalid("outcomeAgent.maxRuns", "must be within [1, 10]")
		}
	}
	return nil
}

// ExecutionStatus is the state of an action the loop chose to execute.
type ExecutionStatus string

const (
	ExecutionPlanned ExecutionStatus = "planned"
	ExecutionDryRun  ExecutionStatus = "dry_run"
)

// ExecutedAction is a backlog item the loop executed this cycle.
type ExecutedAction struct {
	RecommendationID string          `json:"recommendationId"`
	Title            string          `json:"title"`
	RunID            *string         `json:"runId"`
	SprintObjective  string          `json:"sprintObjective"`
	HorizonDays      int             `json:"horizonDays"`
	Status           ExecutionStatus `json:"status"`
}

// SkippedAction is a backlog item the loop passed over, with the reason.
type SkippedAction struct {
	RecommendationID string `json:"recommendationId"`
	Title            string `json:"title"`
	Reason           string `json:"reason"`
}

// OutcomeAgentResult is the outcome agent's plan plus the runs it closed.
type OutcomeAgentResult struct {
	economy.OutcomePlan
	Applied []string `json:"applied"`
}

// DecideResponse is the full decision loop output.
type DecideResponse struct {
	RequestID           string                    `json:"requestId"`
	StorySlug           string                    `json:"storySlug"`
	Mode                models.AutonomyMode       `json:"mode"`
	Objective           economy.Objective         `json:"objective"`
	DecisionPolicy      economy.DecisionPolicy    `json:"decisionPolicy"`
	PolicyLearning      economy.LearningReport    `json:"policyLearning"`
	Governance          economy.GovernanceReport  `json:"governance"`
	Automation          economy.AutomationPlan    `json:"automation"`
	Backlog             economy.Backlog           `json:"backlog"`
	Optimizer           economy.OptimizerReport   `json:"optimizer"`
	Strategy            economy.StrategyLoop      `json:"strategy"`
	AnchorRenewed       bool                      `json:"anchorRenewed"`
	WindowGate          economy.WindowGate        `json:"windowGate"`
	SelfHealing         economy.SelfHealingReport `json:"selfHealing"`
	OutcomeAgentPlan    *OutcomeAgentResult       `json:"outcomeAgentPlan,omitempty"`
	BlockedByGovernance bool                      `json:"blockedByGovernance"`
	DryRun              bool                      `json:"dryRun"`
	Executed            []ExecutedAction          `json:"executed"`
	Skipped             []SkippedAction           `json:"skipped"`
	History             []models.RunSummary       `json:"history"`
}

// Decide runs one cycle of the decision loop for a story. History is read
// once; at most the policy's action count of new runs is written at the end.
// Non-dry runs hold the story's advisory lock for the whole cycle.
func (s *Service) Decide(ctx context.Context, slug string, req DecideRequest) (*DecideResponse, error) {
	ctx, requestID := requestctx.EnsureRequestID(ctx)
	log := logging.ForStory(logging.FromContext(ctx), slug)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	signals, err := s.GetSignals(ctx, slug)
	if err != nil {
		return nil, err
	}
	storyID := signals.StoryID

	if !req.DryRun {
		lock, err := s.store.AcquireLock(ctx, "economy:"+storyID, s.opts.HolderID+":"+requestID, "decision", s.opts.LockTTL)
		if errors.Is(err, store.ErrResourceLocked) {
			return nil, ErrDecisionInProgress
		}
		if err != nil {
			return nil, fmt.Errorf("acquire decision lock: %w", err)
		}
		defer func() {
			// the request context may already be cancelled
			if err := s.store.ReleaseLock(context.WithoutCancel(ctx), lock.ID); err != nil {
				log.Warn("release decision lock", zap.Error(err))
			}
		}()
	}

	if req.onlyIfDue {
		due, err := s.Due(ctx, storyID)
		if err != nil {
			return nil, fmt.Errorf("check cycle due: %w", err)
		}
		if !due {
			return nil, errNotDue
		}
	}

	now := s.now()
	runs, err := s.store.ListRuns(ctx, storyID, 0)
	if err != nil {
		return nil, fmt.Errorf("load run history: %w", err)
	}
	prev, err := s.loadStrategy(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy state: %w", err)
	}

	in := economy.LoopInput{
		Signals:          *signals,
		Runs:             runs,
		Now:              now,
		Mode:             models.AutonomyMode(req.Mode),
		MaxActions:       req.MaxActions,
		OwnerOverrides:   req.OwnerOverrides,
		MerchCandidateID: req.MerchCandidateID,
		Objective:        economy.Objective(req.Objective),
		CadenceHours:     req.CadenceHours,
	}
	renewed := true
	if prev != nil {
		in.Anchor, renewed = economy.ResolveAnchor(prev.AnchorAt, prev.CadenceHours, now)
		if renewed {
			log.Info("strategy anchor renewed",
				zap.Time("previous_anchor", prev.AnchorAt),
				zap.Int("previous_cadence_hours", prev.CadenceHours),
			)
		}
	}
	if oa := req.OutcomeAgent; oa != nil && oa.Enabled {
		in.OutcomeAgent = &economy.OutcomeAgentOptions{
			StaleAfterHours: s.opts.OutcomeAgent.StaleAfterHours,
			MaxRuns:         s.opts.OutcomeAgent.MaxRuns,
		}
		if oa.StaleAfterHours > 0 {
			in.OutcomeAgent.StaleAfterHours = oa.StaleAfterHours
		}
		if oa.MaxRuns > 0 {
			in.OutcomeAgent.MaxRuns = oa.MaxRuns
		}
	}
	if err := in.Validate(); err != nil {
		return nil, invalid("", "%s", err.Error())
	}

	res := economy.RunLoop(in)

	resp := &DecideResponse{
		RequestID:           requestID,
		StorySlug:           slug,
		Mode:                res.Policy.Mode,
		Objective:           res.Objective,
		DecisionPolicy:      res.Policy,
		PolicyLearning:      res.Learning,
		Governance:          res.Governance,
		Automation:          res.Automation,
		Backlog:             res.Backlog,
		Optimizer:           res.Optimizer,
		Strategy:            res.Strategy,
		AnchorRenewed:       renewed,
		WindowGate:          res.Gate,
		SelfHealing:         res.SelfHealing,
		BlockedByGovernance: !res.Governance.Constraints.AllowAutorun && !req.Force,
		DryRun:              req.DryRun,
		Executed:            []ExecutedAction{},
		Skipped:             skippedItems(res),
	}

	toExecute := res.Selected
	if resp.BlockedByGovernance {
		for _, item := range res.Selected {
			resp.Skipped = append(resp.Skipped, SkippedAction{
				RecommendationID: item.RecommendationID,
				Title:            item.Title,
				Reason:           "governance paused autorun",
			})
		}
		toExecute = nil
	}

	newRuns := make([]store.NewRun, 0, len(toExecute))
	for _, item := range toExecute {
		newRuns = append(newRuns, s.autorunRun(req, storyID, requestID, res, item))
	}

	var created []models.Run
	if req.persist() && len(newRuns) > 0 {
		created, err = s.store.CreateRuns(ctx, newRuns)
		if err != nil {
			log.Error("persist autorun runs", zap.Error(err))
			return nil, fmt.Errorf("persist autorun runs: %w", err)
		}
	}
	for i, item := range toExecute {
		action := ExecutedAction{
			RecommendationID: item.RecommendationID,
			Title:            item.Title,
			SprintObjective:  newRuns[i].SprintObjective,
			HorizonDays:      newRuns[i].HorizonDays,
			Status:           ExecutionDryRun,
		}
		if created != nil {
			id := created[i].ID
			action.RunID = &id
			action.Status = ExecutionPlanned
		}
		resp.Executed = append(resp.Executed, action)
	}

	if res.OutcomePlan != nil {
		resp.OutcomeAgentPlan = &OutcomeAgentResult{OutcomePlan: *res.OutcomePlan, Applied: []string{}}
		if req.OutcomeAgent.Apply && req.persist() {
			resp.OutcomeAgentPlan.Applied, err = s.applyOutcomes(ctx, storyID, *res.OutcomePlan, res.Operating.Baseline)
			if err != nil {
				log.Error("apply outcome agent plan", zap.Error(err))
				return nil, err
			}
		}
	}

	resp.History = history(created, runs)

	if req.persist() {
		state := strategyState{AnchorAt: res.Strategy.AnchorAt, CadenceHours: res.Strategy.CadenceHours, DecidedAt: now}
		if err := s.saveStrategy(ctx, storyID, state); err != nil {
			log.Error("persist strategy state", zap.Error(err))
			return nil, fmt.Errorf("persist strategy state: %w", err)
		}
		s.record(ctx, audit.ActionDecide, req, decideOutcome(resp), storyID, map[string]any{
			"requestId":   requestID,
			"mode":        resp.Mode,
			"objective":   resp.Objective,
			"governance":  resp.Governance.Status,
			"selfHealing": resp.SelfHealing.Severity,
			"executed":    len(resp.Executed),
			"skipped":     len(resp.Skipped),
		})
	}

	log.Info("decision cycle complete",
		zap.String("mode", string(resp.Mode)),
		zap.String("objective", string(resp.Objective)),
		zap.String("governance", string(resp.Governance.Status)),
		zap.String("self_healing", string(resp.SelfHealing.Severity)),
		zap.Int("executed", len(resp.Executed)),
		zap.Int("skipped", len(resp.Skipped)),
		zap.Bool("dry_run", req.DryRun),
	)
	return resp, nil
}

func (s *Service) autorunRun(req DecideRequest, storyID, requestID string, res economy.LoopResult, item economy.BacklogItem) store.NewRun {
	exec := item.Execution
	objective := exec.SprintObjective
	if req.SprintObjective != "" {
		objective = req.SprintObjective
	}
	horizon := exec.HorizonDays
	if req.HorizonDays != 0 {
		horizon = req.HorizonDays
	}
	actor := req.ActorUserID
	if actor == "" {
		actor = "autorun"
	}
	plan := models.AutorunPlan{
		RecommendationID:       item.RecommendationID,
		Title:                  item.Title,
		AutonomyMode:           res.Policy.Mode,
		Objective:              string(res.Objective),
		DecisionID:             requestID,
		RequireMerchPlan:       exec.RequireMerchPlan,
		MerchChannels:          exec.MerchChannels,
		DefaultOutcomeDecision: exec.DefaultOutcomeDecision,
	}
	if exec.MerchCandidateID != nil {
		plan.MerchCandidateID = *exec.MerchCandidateID
	}
	baseline := res.Operating.Baseline
	return store.NewRun{
		StoryID:         storyID,
		CreatedByUserID: actor,
		SprintObjective: objective,
		HorizonDays:     horizon,
		Status:          models.RunStatusPlanned,
		Plan:            models.NewAutorunPlan(plan),
		BaselineMetrics: &baseline,
		CreatedAt:       s.now(),
	}
}

// applyOutcomes closes the selected stale runs. Runs closed concurrently by
// someone else are skipped.
func (s *Service) applyOutcomes(ctx context.Context, storyID string, plan economy.OutcomePlan, current models.MetricsSnapshot) ([]string, error) {
	applied := []string{}
	for _, c := range plan.Selected {
		metrics := current
		_, err := s.store.UpdateRunOutcome(ctx, c.RunID, store.RunOutcome{
			Decision:    c.SuggestedDecision,
			Metrics:     &metrics,
			Notes:       "outcome-agent: " + c.Reason,
			CompletedAt: s.now(),
		})
		if errors.Is(err, store.ErrRunAlreadyCompleted) || errors.Is(err, store.ErrRunNotFound) {
			continue
		}
		if err != nil {
			return applied, fmt.Errorf("close run %s: %w", c.RunID, err)
		}
		applied = append(applied, c.RunID)
		s.record(ctx, audit.ActionOutcomeApply, c, string(c.SuggestedDecision), storyID, map[string]string{"runId": c.RunID})
	}
	return applied, nil
}

// skippedItems lists every backlog item the selector passed over.
func skippedItems(res economy.LoopResult) []SkippedAction {
	selected := make(map[string]bool, len(res.Selected))
	for _, item := range res.Selected {
		selected[item.ID] = true
	}
	out := []SkippedAction{}
	for _, item := range res.Backlog.Items {
		if selected[item.ID] {
			continue
		}
		reason := item.Reason
		if item.Status == economy.BacklogReady {
			reason = fmt.Sprintf("action limit reached (%d per cycle)", len(res.Selected))
		}
		out = append(out, SkippedAction{
			RecommendationID: item.RecommendationID,
			Title:            item.Title,
			Reason:           reason,
		})
	}
	return out
}

func history(created, prior []models.Run) []models.RunSummary {
	out := make([]models.RunSummary, 0, min(len(created)+len(prior), historyLimit))
	for _, group := range [][]models.Run{created, prior} {
		for _, run := range group {
			if len(out) == historyLimit {
				return out
			}
			out = append(out, run.Summary())
		}
	}
	return out
}

func decideOutcome(resp *DecideResponse) string {
	switch {
	case resp.BlockedByGovernance:
		return "blocked"
	case len(resp.Executed) == 0:
		return "idle"
	}
	ids := make([]string, 0, len(resp.Executed))
	for _, e := range resp.Executed {
		ids = append(ids, e.RecommendationID)
	}
	return "executed:" + strings.Join(ids, ",")
}

// DecideDue runs a scheduled decision when the story's cycle is due.
// It reports whether a decision ran. The cadence is checked again under the
// story lock, so concurrent schedulers sharing a database run a cycle once.
func (s *Service) DecideDue(ctx context.Context, signals models.StorySignals, req DecideRequest) (*DecideResponse, bool, error) {
	due, err := s.Due(ctx, signals.StoryID)
	if err != nil || !due {
		return nil, false, err
	}
	req.onlyIfDue = true
	resp, err := s.Decide(ctx, signals.StorySlug, req)
	if errors.Is(err, errNotDue) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}
