package models

import "time"

// IPReport is the output contract of the upstream IP-readiness report.
type IPReport struct {
	OverallScore            float64 `json:"overallScore" yaml:"overallScore"`
	RetentionPotentialScore float64 `json:"retentionPotentialScore" yaml:"retentionPotentialScore"`
}

// MerchCandidate is one product idea proposed by the merchability report.
type MerchCandidate struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title,omitempty" yaml:"title,omitempty"`
	Channels []string `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// MerchReport is the output contract of the upstream merchability report.
type MerchReport struct {
	OverallScore float64          `json:"overallScore" yaml:"overallScore"`
	Candidates   []MerchCandidate `json:"candidates" yaml:"candidates"`
}

// RosterEntry is one role on the story's role board.
type RosterEntry struct {
	RoleID       string   `json:"roleId" yaml:"roleId"`
	Title        string   `json:"title,omitempty" yaml:"title,omitempty"`
	OwnerUserID  *string  `json:"ownerUserId" yaml:"ownerUserId"`
	Participants []string `json:"participants" yaml:"participants"`
}

// RoleBoard is the output contract of the upstream role-roster board.
type RoleBoard struct {
	Roster []RosterEntry `json:"roster" yaml:"roster"`
}

// StoryStats are raw counts supplied alongside the reports.
type StoryStats struct {
	RemixCount int `json:"remixCount" yaml:"remixCount"`
	PageCount  int `json:"pageCount" yaml:"pageCount"`
}

// StorySignals bundles every upstream input the decision loop consumes for one story.
type StorySignals struct {
	StorySlug string      `json:"storySlug" yaml:"storySlug"`
	StoryID   string      `json:"storyId" yaml:"storyId"`
	Autorun   bool        `json:"autorun" yaml:"autorun"`
	IP        IPReport    `json:"ip" yaml:"ip"`
	Merch     MerchReport `json:"merch" yaml:"merch"`
	Roles     RoleBoard   `json:"roles" yaml:"roles"`
	Stats     StoryStats  `json:"stats" yaml:"stats"`
	UpdatedAt time.Time   `json:"updatedAt" yaml:"-"`
}
