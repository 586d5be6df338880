// Package scoring holds the deterministic part of job fit scoring. The fit
// judgement itself comes from the model; this package constrains it with the
// profile weights, validates what comes back and derives the priority.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spigell/job-agents/internal/jobs"
)

const (
	HighThreshold   = 85
	MediumThreshold = 70

	// Tolerance is the allowed gap between the breakdown sum and the overall score.
	Tolerance = 0.5
)

var ErrMalformedScore = errors.New("malformed score")

// PriorityFor maps an overall score to its priority class.
func PriorityFor(score float64) jobs.Priority {
	switch {
	case score >= HighThreshold:
		return jobs.PriorityHigh
	case score >= MediumThreshold:
		return jobs.PriorityMedium
	default:
		return jobs.PriorityLow
	}
}

// Validate checks a returned breakdown against the weights it was requested
// with. Weights are assumed valid. Nothing is clamped.
func Validate(b jobs.ScoreBreakdown, w jobs.Weights, overall float64) error {
	values := b.Values()
	for i, c := range w.Categories() {
		v := values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a number", ErrMalformedScore, c.Name)
		}
		if v < 0 {
			return fmt.Errorf("%w: %s is negative (%g)", ErrMalformedScore, c.Name, v)
		}
		if v > float64(c.Weight) {
			return fmt.Errorf("%w: %s %g exceeds weight %d", ErrMalformedScore, c.Name, v, c.Weight)
		}
	}

	if math.IsNaN(overall) || overall < 0 || overall > 100 {
		return fmt.Errorf("%w: overall %g is outside [0,100]", ErrMalformedScore, overall)
	}

	if sum := b.Sum(); math.Abs(sum-overall) > Tolerance {
		return fmt.Errorf("%w: sub-scores sum to %g, overall is %g", ErrMalformedScore, sum, overall)
	}

	return nil
}

// ConstraintPrompt renders the per-category maximums handed to the model.
func ConstraintPrompt(w jobs.Weights) string {
	var b strings.Builder
	b.WriteString("Score every job out of 100 points. Each category has a hard maximum:\n")
	for _, c := range w.Categories() {
		fmt.Fprintf(&b, "- %s: 0 to %d points\n", c.Name, c.Weight)
	}
	b.WriteString("The overall score must equal the sum of the category scores. ")
	fmt.Fprintf(&b, "Priority is high at %d or above, medium at %d or above, low otherwise.", HighThreshold, MediumThreshold)
	return b.String()
}

type PriorityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

func (p *PriorityCounts) Add(priority jobs.Priority) {
	switch priority {
	case jobs.PriorityHigh:
		p.High++
	case jobs.PriorityMedium:
		p.Medium++
	default:
		p.Low++
	}
}

type Summary struct {
	Count          int            `json:"count"`
	AverageScore   float64        `json:"averageScore"`
	PriorityCounts PriorityCounts `json:"priorityCounts"`
}

// Summarize aggregates a batch of scores. The average is rounded to one decimal.
func Summarize(scores []jobs.JobScore) Summary {
	var s Summary
	if len(scores) == 0 {
		return s
	}

	total := 0.0
	for _, score := range scores {
		total += score.Overall
		s.PriorityCounts.Add(score.Priority)
	}

	s.Count = len(scores)
	s.AverageScore = math.Round(total/float64(len(scores))*10) / 10
	return s
}
