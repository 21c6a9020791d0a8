package economy

import (
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// BacklogStatus is the computed readiness of a backlog item.
type BacklogStatus string

const (
	BacklogReady    BacklogStatus = "ready"
	BacklogBlocked  BacklogStatus = "blocked"
	BacklogCooldown BacklogStatus = "cooldown"
)

// BacklogItem is a candidate action with readiness recomputed on every build.
type BacklogItem struct {
	ID               string        `json:"id"`
	RecommendationID string        `json:"recommendationId"`
	Title            string        `json:"title"`
	Priority         Priority      `json:"priority"`
	TriggerIDs       []string      `json:"triggerIds"`
	Status           BacklogStatus `json:"status"`
	Score            float64       `json:"score"`
	Reason           string        `json:"reason"`
	Execution        ExecutionSpec `json:"execution"`
	LastExecutedAt   *time.Time    `json:"lastExecutedAt"`
	CooldownUntil    *time.Time    `json:"cooldownUntil"`
}

// Backlog is the scored queue plus status counts.
type Backlog struct {
	Items         []BacklogItem `json:"items"`
	ReadyCount    int           `json:"readyCount"`
	BlockedCount  int           `json:"blockedCount"`
	CooldownCount int           `json:"cooldownCount"`
}

// BacklogInput configures BuildBacklog.
type BacklogInput struct {
	Automation AutomationPlan
	Policy     DecisionPolicy
	Runs       []models.Run
	Now        time.Time
}

// lastExecution finds the most recent run from a recognized source for the recommendation.
func lastExecution(runs []models.Run, recommendationID string) (models.Run, bool) {
	var best models.Run
	found := false
	for _, run := range runs {
		if !run.Plan.Source.Recognized() || run.Plan.ExecutedRecommendationID() != recommendationID {
			continue
		}
		if !found || run.CreatedAt.After(best.CreatedAt) {
			best, found = run, true
		}
	}
	return best, found
}

// BuildBacklog merges recommendations, policy and history into a scored queue.
// Items sort by score descending; ties keep recommendation order.
func BuildBacklog(in BacklogInput) Backlog {
	items := make([]BacklogItem, 0, len(in.Automation.Recommendations))
	cooldown := time.Duration(in.Policy.CooldownHours) * time.Hour

	for _, rec := range in.Automation.Recommendations {
		item := BacklogItem{
			ID:               "backlog_" + rec.ID,
			RecommendationID: rec.ID,
			Title:            rec.Title,
			Priority:         rec.Priority,
			TriggerIDs:       append([]string{}, rec.TriggerIDs...),
			Execution:        rec.Execution,
		}

		cooldownActive := false
		var until time.Time
		if run, ok := lastExecution(in.Runs, rec.ID); ok {
			last := run.LastActivityAt().UTC()
			item.LastExecutedAt = &last
			until = last.Add(cooldown)
			cooldownActive = hoursSince(last, in.Now) < float64(in.Policy.CooldownHours)
		}

		if blocked, reason := in.Automation.Blocked(rec.ID); blocked {
			item.Status = BacklogBlocked
			item.Reason = "blocked: " + reason
		} else if cooldownActive {
			item.Status = BacklogCooldown
			item.CooldownUntil = &until
			item.Reason = fmt.Sprintf("cooling down until %s (%dh cooldown)", until.Format(time.RFC3339), in.Policy.CooldownHours)
		} else {
			item.Status = BacklogReady
			if item.LastExecutedAt == nil {
				item.Reason = "never executed"
			} else {
				item.Reason = fmt.Sprintf("last executed %s, cooldown elapsed", item.LastExecutedAt.Format(time.RFC3339))
			}
		}
		item.Score = backlogScore(rec, item.Status)
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	out := Backlog{Items: items}
	for _, it := range items {
		switch it.Status {
		case BacklogReady:
			out.ReadyCount++
		case BacklogBlocked:
			out.BlockedCount++
		case BacklogCooldown:
			out.CooldownCount++
		}
	}
	return out
}

func backlogScore(rec AutomationRecommendation, status BacklogStatus) float64 {
	score := rec.Priority.Weight() + 8*float64(len(rec.TriggerIDs))
	switch status {
	case BacklogReady:
		score += 12
	case BacklogCooldown:
		score -= 6
	default:
		score -= 30
	}
	return score
}
