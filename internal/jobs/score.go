package jobs

import (
	"errors"
	"fmt"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ScoreBreakdown holds the five category sub-scores. Each is bounded above by
// the matching weight of the profile the job was scored against.
type ScoreBreakdown struct {
	SalaryMatch     float64 `json:"salaryMatch"`
	LocationFit     float64 `json:"locationFit"`
	CompanyAppeal   float64 `json:"companyAppeal"`
	RoleMatch       float64 `json:"roleMatch"`
	RequirementsFit float64 `json:"requirementsFit"`
}

func (b ScoreBreakdown) Sum() float64 {
	return b.SalaryMatch + b.LocationFit + b.CompanyAppeal + b.RoleMatch + b.RequirementsFit
}

// JobScore is the scoring record appended to a saved job.
type JobScore struct {
	Overall   float64        `json:"overall"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Reasoning string         `json:"reasoning"`
	Gaps      []string       `json:"gaps"`
	Priority  Priority       `json:"priority"`
	ScoredAt  time.Time      `json:"scoredAt"`
}

var ErrInvalidWeights = errors.New("invalid scoring weights")

// Weights caps the points each category may contribute. Accepted weights are
// non-negative and sum to exactly 100.
type Weights struct {
	SalaryMatch     int `json:"salaryMatch"`
	LocationFit     int `json:"locationFit"`
	CompanyAppeal   int `json:"companyAppeal"`
	RoleMatch       int `json:"roleMatch"`
	RequirementsFit int `json:"requirementsFit"`
}

func DefaultWeights() Weights {
	return Weights{
		SalaryMatch:     30,
		LocationFit:     20,
		CompanyAppeal:   25,
		RoleMatch:       15,
		RequirementsFit: 10,
	}
}

func (w Weights) Sum() int {
	return w.SalaryMatch + w.LocationFit + w.CompanyAppeal + w.RoleMatch + w.RequirementsFit
}

// Category pairs a category name with its weight, in a fixed order.
type Category struct {
	Name   string
	Weight int
}

func (w Weights) Categories() []Category {
	return []Category{
		{Name: "salaryMatch", Weight: w.SalaryMatch},
		{Name: "locationFit", Weight: w.LocationFit},
		{Name: "companyAppeal", Weight: w.CompanyAppeal},
		{Name: "roleMatch", Weight: w.RoleMatch},
		{Name: "requirementsFit", Weight: w.RequirementsFit},
	}
}

func (w Weights) Validate() error {
	for _, c := range w.Categories() {
		if c.Weight < 0 {
			return fmt.Errorf("%w: %s is negative (%d)", ErrInvalidWeights, c.Name, c.Weight)
		}
	}
	if sum := w.Sum(); sum != 100 {
		return fmt.Errorf("%w: weights sum to %d, expected 100", ErrInvalidWeights, sum)
	}
	return nil
}

// Values returns the breakdown entries in the same order as Weights.Categories.
func (b ScoreBreakdown) Values() []float64 {
	return []float64{b.SalaryMatch, b.LocationFit, b.CompanyAppeal, b.RoleMatch, b.RequirementsFit}
}
