package economy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// TriggerKind separates risks from opportunities.
type TriggerKind string

const (
	TriggerRisk        TriggerKind = "risk"
	TriggerOpportunity TriggerKind = "opportunity"
)

// Trigger is a condition detected on the operating plan.
type Trigger struct {
	ID       string      `json:"id"`
	Kind     TriggerKind `json:"kind"`
	Severity Priority    `json:"severity"`
	Message  string      `json:"message"`
}

// Trigger ids.
const (
	TriggerIPReadinessLow    = "ip_readiness_low"
	TriggerRoleGaps          = "role_gaps"
	TriggerRetentionWeak     = "retention_weak"
	TriggerCadenceIdle       = "cadence_idle"
	TriggerMerchReady        = "merch_ready"
	TriggerIPStrong          = "ip_strong"
	TriggerRemixMomentum     = "remix_momentum"
	TriggerDistributionReady = "distribution_ready"
)

// QueueStatus is the automation plan's own view of whether a recommendation can run.
type QueueStatus string

const (
	QueueQueued  QueueStatus = "queued"
	QueueBlocked QueueStatus = "blocked"
)

// QueueEntry pairs a recommendation with its queue status.
type QueueEntry struct {
	RecommendationID string      `json:"recommendationId"`
	Status           QueueStatus `json:"status"`
	Reason           string      `json:"reason"`
}

// AutomationPlan is the ranked set of recommendations for one invocation.
type AutomationPlan struct {
	Triggers        []Trigger                  `json:"triggers"`
	Recommendations []AutomationRecommendation `json:"recommendations"`
	Queue           []QueueEntry               `json:"queue"`
}

// Blocked reports whether the queue marked the recommendation blocked.
func (p AutomationPlan) Blocked(recommendationID string) (bool, string) {
	for _, q := range p.Queue {
		if q.RecommendationID == recommendationID && q.Status == QueueBlocked {
			return true, q.Reason
		}
	}
	return false, ""
}

// RiskCounts returns the number of active risk triggers and how many are high severity.
func (p AutomationPlan) RiskCounts() (risks, highRisks, opportunities int) {
	for _, t := range p.Triggers {
		switch t.Kind {
		case TriggerRisk:
			risks++
			if t.Severity == PriorityHigh {
				highRisks++
			}
		case TriggerOpportunity:
			opportunities++
		}
	}
	return risks, highRisks, opportunities
}

// AutomationOptions carries caller overrides for the automation plan.
type AutomationOptions struct {
	// IdleHours is the time since the newest run; HasHistory is false when there are no runs.
	IdleHours  float64
	HasHistory bool
	// OwnerOverrides maps recommendation id to roster role id.
	OwnerOverrides   map[string]string
	MerchCandidateID string
}

type recommendationTemplate struct {
	id              string
	title           string
	triggers        []string
	objective       string
	horizonDays     int
	preferredRoles  []string
	requireMerch    bool
	ownerOptional   bool
	defaultDecision models.OutcomeDecision
}

// catalogue order is the tie-break order for ranking.
var catalogue = []recommendationTemplate{
	{
		id: "rec_strengthen_ip", title: "Strengthen IP readiness",
		triggers: []string{TriggerIPReadinessLow}, objective: SprintStrengthenIP, horizonDays: 14,
		preferredRoles: []string{"story_lead", "showrunner"}, defaultDecision: models.DecisionIterate,
	},
	{
		id: "rec_close_role_gaps", title: "Staff unowned roles",
		triggers: []string{TriggerRoleGaps}, objective: SprintCloseRoleGaps, horizonDays: 7,
		preferredRoles: []string{"producer", "showrunner"}, ownerOptional: true, defaultDecision: models.DecisionIterate,
	},
	{
		id: "rec_lift_retention", title: "Lift retention potential",
		triggers: []string{TriggerRetentionWeak}, objective: SprintDeepenRetention, horizonDays: 14,
		preferredRoles: []string{"story_lead", "community_lead"}, defaultDecision: models.DecisionIterate,
	},
	{
		id: "rec_restart_cadence", title: "Restart release cadence",
		triggers: []string{TriggerCadenceIdle}, objective: SprintShipNextDrop, horizonDays: 7,
		preferredRoles: []string{"producer", "showrunner"}, defaultDecision: models.DecisionIterate,
	},
	{
		id: "rec_launch_merch_drop", title: "Launch merch drop",
		triggers: []string{TriggerMerchReady}, objective: SprintShipNextDrop, horizonDays: 21,
		preferredRoles: []string{"merch_lead", "producer"}, requireMerch: true, defaultDecision: models.DecisionScale,
	},
	{
		id: "rec_scale_distribution", title: "Scale distribution",
		triggers: []string{TriggerDistributionReady, TriggerIPStrong}, objective: SprintScaleDistribution, horizonDays: 30,
		preferredRoles: []string{"distribution_lead", "producer"}, defaultDecision: models.DecisionScale,
	},
	{
		id: "rec_activate_remixes", title: "Activate remix community",
		triggers: []string{TriggerRemixMomentum}, objective: SprintGrowCommunity, horizonDays: 14,
		preferredRoles: []string{"community_lead", "producer"}, defaultDecision: models.DecisionScale,
	},
}

// RecommendationIDs lists every recommendation id the engine can emit.
func RecommendationIDs() []string {
	ids := make([]string, 0, len(catalogue))
	for _, t := range catalogue {
		ids = append(ids, t.id)
	}
	return ids
}

// IdleHours returns hours since the newest run was created.
func IdleHours(runs []models.Run, now time.Time) (float64, bool) {
	if len(runs) == 0 {
		return 0, false
	}
	newest := runs[0].CreatedAt
	for _, r := range runs[1:] {
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}
	return hoursSince(newest, now), true
}

// DetectTriggers evaluates the trigger rules against the operating plan.
func DetectTriggers(plan OperatingPlan, opts AutomationOptions) []Trigger {
	b := plan.Baseline
	var out []Trigger
	add := func(id string, kind TriggerKind, sev Priority, msg string) {
		out = append(out, Trigger{ID: id, Kind: kind, Severity: sev, Message: msg})
	}

	if b.IPOverall < 45 {
		sev := PriorityMedium
		if b.IPOverall < 30 {
			sev = PriorityHigh
		}
		add(TriggerIPReadinessLow, TriggerRisk, sev, fmt.Sprintf("IP readiness %.1f is below 45", b.IPOverall))
	}
	if b.RoleCoverage < 60 {
		sev := PriorityMedium
		if b.RoleCoverage < 40 {
			sev = PriorityHigh
		}
		add(TriggerRoleGaps, TriggerRisk, sev, fmt.Sprintf("role coverage %.1f%% leaves roles unowned", b.RoleCoverage))
	}
	if b.RetentionPotential < 40 {
		sev := PriorityMedium
		if b.RetentionPotential < 25 {
			sev = PriorityHigh
		}
		add(TriggerRetentionWeak, TriggerRisk, sev, fmt.Sprintf("retention potential %.1f is below 40", b.RetentionPotential))
	}
	if opts.HasHistory && opts.IdleHours >= 72 {
		add(TriggerCadenceIdle, TriggerRisk, PriorityMedium, fmt.Sprintf("no new run for %.0fh", opts.IdleHours))
	}
	if b.MerchSignal >= 65 && len(plan.MerchCandidates) > 0 {
		sev := PriorityMedium
		if b.MerchSignal >= 80 {
			sev = PriorityHigh
		}
		add(TriggerMerchReady, TriggerOpportunity, sev, fmt.Sprintf("merch signal %.1f with %d candidates", b.MerchSignal, len(plan.MerchCandidates)))
	}
	if b.IPOverall >= 70 {
		add(TriggerIPStrong, TriggerOpportunity, PriorityMedium, fmt.Sprintf("IP readiness %.1f supports expansion", b.IPOverall))
	}
	if b.RemixCount >= 3 {
		sev := PriorityLow
		if b.RemixCount >= 10 {
			sev = PriorityMedium
		}
		add(TriggerRemixMomentum, TriggerOpportunity, sev, fmt.Sprintf("%.0f remixes published", b.RemixCount))
	}
	if b.CombinedScore >= 70 {
		add(TriggerDistributionReady, TriggerOpportunity, PriorityHigh, fmt.Sprintf("combined score %.1f clears distribution bar", b.CombinedScore))
	}
	return out
}

// BuildAutomationPlan turns the operating plan into ranked recommendations.
// Overrides that reference unknown roles or candidates are ignored; call
// ValidateAutomationOptions first to reject them.
func BuildAutomationPlan(plan OperatingPlan, opts AutomationOptions) AutomationPlan {
	triggers := DetectTriggers(plan, opts)
	active := make(map[string]Trigger, len(triggers))
	for _, t := range triggers {
		active[t.ID] = t
	}

	type ranked struct {
		rec   AutomationRecommendation
		queue QueueEntry
		order int
	}
	var items []ranked

	for order, tpl := range catalogue {
		var ids []string
		priority := PriorityLow
		for _, tid := range tpl.triggers {
			t, ok := active[tid]
			if !ok {
				continue
			}
			ids = append(ids, tid)
			if t.Severity.rank() > priority.rank() {
				priority = t.Severity
			}
		}
		if len(ids) == 0 {
			continue
		}

		owner, ownerEntry := resolveOwner(plan.Roster, tpl, opts.OwnerOverrides[tpl.id])
		exec := ExecutionSpec{
			SprintObjective:        tpl.objective,
			HorizonDays:            tpl.horizonDays,
			RequireMerchPlan:       tpl.requireMerch,
			MerchChannels:          []string{},
			DefaultOutcomeDecision: tpl.defaultDecision,
		}
		if tpl.requireMerch {
			if c, ok := pickCandidate(plan.MerchCandidates, opts.MerchCandidateID); ok {
				id := c.ID
				exec.MerchCandidateID = &id
				exec.MerchChannels = append([]string{}, c.Channels...)
			}
		}

		queue := QueueEntry{RecommendationID: tpl.id, Status: QueueQueued, Reason: "ready to schedule"}
		switch {
		case tpl.requireMerch && exec.MerchCandidateID == nil:
			queue.Status, queue.Reason = QueueBlocked, "no merch candidate available"
		case !tpl.ownerOptional && ownerEntry == nil:
			queue.Status, queue.Reason = QueueBlocked, "no role agent available to own this action"
		case !tpl.ownerOptional && !hasOwner(*ownerEntry):
			queue.Status, queue.Reason = QueueBlocked, fmt.Sprintf("role %s has no owner", owner)
		}

		items = append(items, ranked{
			rec: AutomationRecommendation{
				ID:               tpl.id,
				Title:            tpl.title,
				Priority:         priority,
				OwnerRoleAgentID: owner,
				TriggerIDs:       ids,
				Execution:        exec,
			},
			queue: queue,
			order: order,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.rec.Priority.rank() != b.rec.Priority.rank() {
			return a.rec.Priority.rank() > b.rec.Priority.rank()
		}
		if len(a.rec.TriggerIDs) != len(b.rec.TriggerIDs) {
			return len(a.rec.TriggerIDs) > len(b.rec.TriggerIDs)
		}
		return a.order < b.order
	})

	out := AutomationPlan{
		Triggers:        triggers,
		Recommendations: make([]AutomationRecommendation, 0, len(items)),
		Queue:           make([]QueueEntry, 0, len(items)),
	}
	if out.Triggers == nil {
		out.Triggers = []Trigger{}
	}
	for _, it := range items {
		out.Recommendations = append(out.Recommendations, it.rec)
		out.Queue = append(out.Queue, it.queue)
	}
	return out
}

// ValidateAutomationOptions rejects overrides that reference unknown ids.
func ValidateAutomationOptions(plan OperatingPlan, opts AutomationOptions) error {
	known := make(map[string]struct{}, len(catalogue))
	for _, t := range catalogue {
		known[t.id] = struct{}{}
	}
	recIDs := make([]string, 0, len(opts.OwnerOverrides))
	for id := range opts.OwnerOverrides {
		recIDs = append(recIDs, id)
	}
	sort.Strings(recIDs)
	for _, recID := range recIDs {
		if _, ok := known[recID]; !ok {
			return fmt.Errorf("ownerOverrides: unknown recommendation id %q", recID)
		}
		role := opts.OwnerOverrides[recID]
		if rosterEntry(plan.Roster, role) == nil {
			return fmt.Errorf("ownerOverrides[%s]: unknown role %q", recID, role)
		}
	}
	if id := strings.TrimSpace(opts.MerchCandidateID); id != "" {
		if _, ok := pickCandidate(plan.MerchCandidates, id); !ok {
			return fmt.Errorf("merchCandidateId: unknown candidate %q", id)
		}
	}
	return nil
}

func resolveOwner(roster []models.RosterEntry, tpl recommendationTemplate, override string) (string, *models.RosterEntry) {
	if override != "" {
		if e := rosterEntry(roster, override); e != nil {
			return e.RoleID, e
		}
	}
	for _, role := range tpl.preferredRoles {
		if e := rosterEntry(roster, role); e != nil {
			return e.RoleID, e
		}
	}
	if len(roster) > 0 {
		return roster[0].RoleID, &roster[0]
	}
	if len(tpl.preferredRoles) > 0 {
		return tpl.preferredRoles[0], nil
	}
	return "unassigned", nil
}

func rosterEntry(roster []models.RosterEntry, roleID string) *models.RosterEntry {
	for i := range roster {
		if roster[i].RoleID == roleID {
			return &roster[i]
		}
	}
	return nil
}

func hasOwner(e models.RosterEntry) bool {
	return e.OwnerUserID != nil && strings.TrimSpace(*e.OwnerUserID) != ""
}

func pickCandidate(candidates []models.MerchCandidate, id string) (models.MerchCandidate, bool) {
	id = strings.TrimSpace(id)
	for _, c := range candidates {
		if id == "" || c.ID == id {
			return c, true
		}
	}
	return models.MerchCandidate{}, false
}
