package models

// MetricsSnapshot is the fixed 8-field numeric view of a story at a point in time.
// Score fields are 0-100; count fields are non-negative integers stored as float64.
type MetricsSnapshot struct {
	CombinedScore      float64 `json:"combinedScore"`
	IPOverall          float64 `json:"ipOverall"`
	RetentionPotential float64 `json:"retentionPotential"`
	MerchSignal        float64 `json:"merchSignal"`
	RoleCoverage       float64 `json:"roleCoverage"`
	CollaboratorCount  float64 `json:"collaboratorCount"`
	RemixCount         float64 `json:"remixCount"`
	PageCount          float64 `json:"pageCount"`
}
