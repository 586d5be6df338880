package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/scoring"
)

const (
	SaveJobsTool   = "saveJobsToProfile"
	ScoreJobsTool  = "scoreJobsTool"
	SearchJobsTool = "searchJobs"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrEmptyInput  = errors.New("empty tool input")
)

type Action string

const (
	ActionSaved   Action = "saved"
	ActionScored  Action = "scored"
	ActionDisplay Action = "display"
	ActionError   Action = "error"
)

// Result is the closed set of tool outputs. Consumers switch over the
// concrete types; adding a tool means adding a variant here.
type Result interface {
	Action() Action
	isResult()
}

type SavedResult struct {
	SavedJobs []jobs.Job `json:"savedJobs"`
	Count     int        `json:"count"`
	Message   string     `json:"message"`
}

// ScoredJob is one validated score ready to be attached to a saved job.
type ScoredJob struct {
	ID    string        `json:"id"`
	Score jobs.JobScore `json:"score"`
}

type ScoredResult struct {
	ScoredJobs     []ScoredJob            `json:"scoredJobs"`
	Count          int                    `json:"count"`
	AverageScore   float64                `json:"averageScore"`
	PriorityCounts scoring.PriorityCounts `json:"priorityCounts"`
	Message        string                 `json:"message"`
}

// Scores maps job ids to their scores.
func (r *ScoredResult) Scores() map[string]jobs.JobScore {
	out := make(map[string]jobs.JobScore, len(r.ScoredJobs))
	for _, sj := range r.ScoredJobs {
		out[sj.ID] = sj.Score
	}
	return out
}

type DisplayResult struct {
	Jobs  []jobs.Job `json:"jobs"`
	Count int        `json:"count"`
}

type ErrorResult struct {
	Message string `json:"message"`
}

func (*SavedResult) Action() Action   { return ActionSaved }
func (*ScoredResult) Action() Action  { return ActionScored }
func (*DisplayResult) Action() Action { return ActionDisplay }
func (*ErrorResult) Action() Action   { return ActionError }

func (*SavedResult) isResult()   {}
func (*ScoredResult) isResult()  {}
func (*DisplayResult) isResult() {}
func (*ErrorResult) isResult()   {}

// Encode writes a result with its action discriminant.
func Encode(r Result) (json.RawMessage, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", r.Action(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s result: %w", r.Action(), err)
	}
	fields["action"], _ = json.Marshal(r.Action())

	return json.Marshal(fields)
}

// allowed lists the actions each tool may produce besides ActionError.
var allowed = map[string]Action{
	SaveJobsTool:   ActionSaved,
	ScoreJobsTool:  ActionScored,
	SearchJobsTool: ActionDisplay,
}

// Decode reads a completed tool output into its variant. Outputs of tools
// outside the known set yield ErrUnknownTool.
func Decode(toolName string, output json.RawMessage) (Result, error) {
	expected, ok := allowed[toolName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("decode %s output: %w", toolName, ErrEmptyInput)
	}

	var head struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(output, &head); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", toolName, err)
	}

	var r Result
	switch head.Action {
	case ActionError:
		r = &ErrorResult{}
	case expected:
		switch expected {
		case ActionSaved:
			r = &SavedResult{}
		case ActionScored:
			r = &ScoredResult{}
		case ActionDisplay:
			r = &DisplayResult{}
		}
	default:
		return nil, fmt.Errorf("decode %s output: unexpected action %q", toolName, head.Action)
	}

	if err := json.Unmarshal(output, r); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", toolName, err)
	}
	return r, nil
}
