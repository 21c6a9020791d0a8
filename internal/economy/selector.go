package economy

import "math"

// SelectBacklogExecutionItems returns the first ready items in backlog order.
// requested overrides the policy's action count when non-nil; the bound is clamped to [1,5].
func SelectBacklogExecutionItems(backlog Backlog, policy DecisionPolicy, requested *float64) []BacklogItem {
	limit := float64(policy.MaxActionsPerCycle)
	if requested != nil && !math.IsNaN(*requested) {
		limit = *requested
	}
	bounded := clampInt(int(math.Round(clampFloat(limit, MinActions, MaxActions))), MinActions, MaxActions)

	out := make([]BacklogItem, 0, bounded)
	for _, item := range backlog.Items {
		if len(out) == bounded {
			break
		}
		if item.Status == BacklogReady {
			out = append(out, item)
		}
	}
	return out
}
