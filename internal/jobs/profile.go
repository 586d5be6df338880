package jobs

import "time"

type UserProfile struct {
	Name               string    `json:"name"`
	Headline           string    `json:"headline,omitempty"`
	Skills             []string  `json:"skills,omitempty"`
	DesiredRoles       []string  `json:"desiredRoles,omitempty"`
	PreferredLocations []string  `json:"preferredLocations,omitempty"`
	MinSalary          int       `json:"minSalary,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	ScoringWeights     Weights   `json:"scoringWeights"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}

// Validate checks the profile at the save boundary. Only weights carry an invariant.
func (p *UserProfile) Validate() error {
	return p.ScoringWeights.Validate()
}
