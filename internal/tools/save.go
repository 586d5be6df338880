package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/filtering"
	"github.com/spigell/job-agents/internal/jobs"
	"go.uber.org/zap"
)

// SaveJobs prepares jobs the user asked to keep. Persisting them is left to
// whoever processes the completed invocation.
type SaveJobs struct {
	pipeline *filtering.Pipeline
	logger   *zap.Logger
	now      func() time.Time
}

func NewSaveJobs(pipeline *filtering.Pipeline, logger *zap.Logger) *SaveJobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pipeline == nil {
		pipeline = filtering.New(nil, logger)
	}
	return &SaveJobs{pipeline: pipeline, logger: logger, now: time.Now}
}

func (s *SaveJobs) Spec() ai.ToolSpec {
	return ai.ToolSpec{
		Name:        SaveJobsTool,
		Description: "Save job postings to the user's profile. Call only when the user explicitly asks to save jobs.",
		Parameters:  ai.SchemaFor(&SaveJobsInput{}),
	}
}

func (s *SaveJobs) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in SaveJobsInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if len(in.Jobs) == 0 {
		return nil, fmt.Errorf("%w: jobs list is empty", ErrEmptyInput)
	}

	now := s.now().UTC()
	items := make([]jobs.Job, 0, len(in.Jobs))
	for _, j := range in.Jobs {
		items = append(items, j.toJob(now))
	}

	left, _, err := s.pipeline.Run(ctx, jobs.NewList(items))
	if err != nil {
		return nil, fmt.Errorf("filter jobs: %w", err)
	}
	if left.Len() == 0 {
		return nil, fmt.Errorf("none of the %d jobs can be saved: each lacks a title, company or url, or is excluded", len(items))
	}

	s.logger.Info("jobs prepared for saving",
		zap.Int("requested", len(items)),
		zap.Int("accepted", left.Len()),
		zap.String("criteria", in.Criteria),
	)

	msg := fmt.Sprintf("Saved %d job(s) to your profile.", left.Len())
	if dropped := len(items) - left.Len(); dropped > 0 {
		msg = fmt.Sprintf("Saved %d job(s) to your profile, skipped %d incomplete, duplicated or excluded.", left.Len(), dropped)
	}

	return &SavedResult{
		SavedJobs: left.Values(),
		Count:     left.Len(),
		Message:   msg,
	}, nil
}

func (j JobInput) toJob(now time.Time) jobs.Job {
	id := strings.TrimSpace(j.ID)
	if id == "" {
		id = uuid.NewString()
	}

	source := jobs.Source(strings.ToLower(strings.TrimSpace(j.Source)))
	switch source {
	case jobs.SourceScraped, jobs.SourceAPI, jobs.SourceManual:
	default:
		source = jobs.SourceScraped
	}

	job := jobs.Job{
		ID:           id,
		Title:        strings.TrimSpace(j.Title),
		Company:      strings.TrimSpace(j.Company),
		Location:     strings.TrimSpace(j.Location),
		Description:  strings.TrimSpace(j.Description),
		Requirements: j.Requirements,
		URL:          strings.TrimSpace(j.URL),
		Source:       source,
		DiscoveredAt: now,
	}
	if j.Salary != nil && strings.TrimSpace(*j.Salary) != "" {
		salary := strings.TrimSpace(*j.Salary)
		job.Salary = &salary
	}
	return job
}
