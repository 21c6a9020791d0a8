package economy

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/fentz26/creatorloop/internal/models"
)

// metricAliases maps each snapshot field to the keys accepted in persisted JSON.
var metricAliases = map[string][]string{
	"combinedScore":      {"combinedScore", "combined_score"},
	"ipOverall":          {"ipOverall", "ip_overall"},
	"retentionPotential": {"retentionPotential", "retention_potential"},
	"merchSignal":        {"merchSignal", "merch_signal"},
	"roleCoverage":       {"roleCoverage", "role_coverage"},
	"collaboratorCount":  {"collaboratorCount", "collaborator_count"},
	"remixCount":         {"remixCount", "remix_count"},
	"pageCount":          {"pageCount", "page_count"},
}

// NormalizeMetrics coerces an arbitrary persisted value into a MetricsSnapshot.
// Scores are clamped to [0,100] with one decimal; counts are non-negative integers.
// Unparseable input yields the zero snapshot.
func NormalizeMetrics(raw any) models.MetricsSnapshot {
	switch v := raw.(type) {
	case nil:
		return models.MetricsSnapshot{}
	case models.MetricsSnapshot:
		return normalizeSnapshot(v)
	case *models.MetricsSnapshot:
		if v == nil {
			return models.MetricsSnapshot{}
		}
		return normalizeSnapshot(*v)
	case map[string]any:
		return normalizeMap(v)
	case json.RawMessage:
		return normalizeBytes(v)
	case []byte:
		return normalizeBytes(v)
	case string:
		return normalizeBytes([]byte(v))
	}
	return models.MetricsSnapshot{}
}

func normalizeBytes(data []byte) models.MetricsSnapshot {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return models.MetricsSnapshot{}
	}
	return normalizeMap(m)
}

func normalizeMap(m map[string]any) models.MetricsSnapshot {
	get := func(field string) float64 {
		for _, key := range metricAliases[field] {
			if v, ok := m[key]; ok {
				return coerceNumber(v)
			}
		}
		return 0
	}
	return normalizeSnapshot(models.MetricsSnapshot{
		CombinedScore:      get("combinedScore"),
		IPOverall:          get("ipOverall"),
		RetentionPotential: get("retentionPotential"),
		MerchSignal:        get("merchSignal"),
		RoleCoverage:       get("roleCoverage"),
		CollaboratorCount:  get("collaboratorCount"),
		RemixCount:         get("remixCount"),
		PageCount:          get("pageCount"),
	})
}

func normalizeSnapshot(s models.MetricsSnapshot) models.MetricsSnapshot {
	return models.MetricsSnapshot{
		CombinedScore:      normScore(s.CombinedScore),
		IPOverall:          normScore(s.IPOverall),
		RetentionPotential: normScore(s.RetentionPotential),
		MerchSignal:        normScore(s.MerchSignal),
		RoleCoverage:       normScore(s.RoleCoverage),
		CollaboratorCount:  normCount(s.CollaboratorCount),
		RemixCount:         normCount(s.RemixCount),
		PageCount:          normCount(s.PageCount),
	}
}

func normScore(v float64) float64 {
	return round1(clampFloat(v, 0, 100))
}

func normCount(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return math.Round(v)
}

func coerceNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if n {
			return 1
		}
		return 0
	}
	return 0
}

// combinedDelta returns outcome - baseline combined score when both snapshots exist.
func combinedDelta(run models.Run) (float64, bool) {
	if run.BaselineMetrics == nil || run.OutcomeMetrics == nil {
		return 0, false
	}
	base := NormalizeMetrics(run.BaselineMetrics)
	out := NormalizeMetrics(run.OutcomeMetrics)
	return out.CombinedScore - base.CombinedScore, true
}
