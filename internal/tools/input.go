package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spigell/job-agents/internal/jobs"
)

type JobInput struct {
	ID           string   `json:"id,omitempty" jsonschema:"description=Stable posting id. Generated when empty."`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location,omitempty"`
	Salary       *string  `json:"salary,omitempty"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	URL          string   `json:"url"`
	Source       string   `json:"source,omitempty" jsonschema:"enum=scraped,enum=api,enum=manual"`
}

type SaveJobsInput struct {
	Jobs     []JobInput `json:"jobs" jsonschema:"minItems=1"`
	Criteria string     `json:"criteria,omitempty" jsonschema:"description=Search criteria the user asked for"`
}

type ScoredJobInput struct {
	ID             string              `json:"id"`
	Score          float64             `json:"score" jsonschema:"minimum=0,maximum=100"`
	ScoreBreakdown jobs.ScoreBreakdown `json:"scoreBreakdown"`
	Reasoning      string              `json:"reasoning"`
	Gaps           []string            `json:"gaps"`
	Priority       jobs.Priority       `json:"priority" jsonschema:"enum=high,enum=medium,enum=low"`
}

type ScoreJobsInput struct {
	ScoredJobs []ScoredJobInput `json:"scoredJobs" jsonschema:"minItems=1"`
}

type SearchJobsInput struct {
	Query    string `json:"query"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
}

// decodeInput decodes raw tool arguments into target. Models send loosely
// typed values ("85" for 85, a lone string for a list), so the decoding is weak.
func decodeInput(input json.RawMessage, target any) error {
	if len(bytes.TrimSpace(input)) == 0 {
		return ErrEmptyInput
	}

	var raw map[string]any
	if err := json.Unmarshal(input, &raw); err != nil {
		return fmt.Errorf("parse tool input: %w", err)
	}

	cfg := &mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return fmt.Errorf("build input decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decode tool input: %w", err)
	}
	return nil
}
