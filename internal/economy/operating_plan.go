package economy

import (
	"sort"
	"strings"

	"github.com/fentz26/creatorloop/internal/models"
)

// ScaleBand classifies how ready a story is to scale.
type ScaleBand string

const (
	BandStabilize ScaleBand = "stabilize"
	BandDevelop   ScaleBand = "develop"
	BandScale     ScaleBand = "scale"
)

// PriorityTrack is one improvement area ordered by its gap to a perfect score.
type PriorityTrack struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Score    float64  `json:"score"`
	Gap      float64  `json:"gap"`
	Priority Priority `json:"priority"`
}

// OperatingPlan combines the upstream reports into the loop's starting point.
type OperatingPlan struct {
	Baseline        models.MetricsSnapshot  `json:"baseline"`
	ScaleBand       ScaleBand               `json:"scaleBand"`
	Tracks          []PriorityTrack         `json:"tracks"`
	MerchCandidates []models.MerchCandidate `json:"merchCandidates"`
	Roster          []models.RosterEntry    `json:"roster"`
}

// BuildOperatingPlan derives baseline metrics, the scale band and priority tracks.
func BuildOperatingPlan(signals models.StorySignals) OperatingPlan {
	roster := signals.Roles.Roster
	owned := 0
	collaborators := make(map[string]struct{})
	for _, entry := range roster {
		if entry.OwnerUserID != nil && strings.TrimSpace(*entry.OwnerUserID) != "" {
			owned++
			collaborators[strings.TrimSpace(*entry.OwnerUserID)] = struct{}{}
		}
		for _, p := range entry.Participants {
			if p = strings.TrimSpace(p); p != "" {
				collaborators[p] = struct{}{}
			}
		}
	}

	ip := normScore(signals.IP.OverallScore)
	retention := normScore(signals.IP.RetentionPotentialScore)
	merch := normScore(signals.Merch.OverallScore)
	coverage := normScore(100 * ratio(owned, len(roster)))
	combined := normScore(0.35*ip + 0.20*retention + 0.25*merch + 0.20*coverage)

	baseline := NormalizeMetrics(models.MetricsSnapshot{
		CombinedScore:      combined,
		IPOverall:          ip,
		RetentionPotential: retention,
		MerchSignal:        merch,
		RoleCoverage:       coverage,
		CollaboratorCount:  float64(len(collaborators)),
		RemixCount:         float64(signals.Stats.RemixCount),
		PageCount:          float64(signals.Stats.PageCount),
	})

	return OperatingPlan{
		Baseline:        baseline,
		ScaleBand:       scaleBandFor(baseline.CombinedScore),
		Tracks:          priorityTracks(baseline),
		MerchCandidates: append([]models.MerchCandidate(nil), signals.Merch.Candidates...),
		Roster:          append([]models.RosterEntry(nil), roster...),
	}
}

func scaleBandFor(combined float64) ScaleBand {
	switch {
	case combined < 40:
		return BandStabilize
	case combined < 65:
		return BandDevelop
	default:
		return BandScale
	}
}

func priorityTracks(b models.MetricsSnapshot) []PriorityTrack {
	tracks := []PriorityTrack{
		{ID: "ip_foundation", Title: "IP foundation", Score: b.IPOverall},
		{ID: "merch_readiness", Title: "Merch readiness", Score: b.MerchSignal},
		{ID: "team_coverage", Title: "Team coverage", Score: b.RoleCoverage},
		{ID: "audience_retention", Title: "Audience retention", Score: b.RetentionPotential},
	}
	for i := range tracks {
		gap := round1(100 - tracks[i].Score)
		tracks[i].Gap = gap
		switch {
		case gap >= 50:
			tracks[i].Priority = PriorityHigh
		case gap >= 25:
			tracks[i].Priority = PriorityMedium
		default:
			tracks[i].Priority = PriorityLow
		}
	}
	sort.SliceStable(tracks, func(i, j int) bool {
		return tracks[i].Gap > tracks[j].Gap
	})
	return tracks
}
