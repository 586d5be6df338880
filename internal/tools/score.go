package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/scoring"
	"go.uber.org/zap"
)

var ErrNoProfile = errors.New("profile is required for scoring")

// ProfileReader loads the profile whose weights bound the scores.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*jobs.UserProfile, error)
}

// ScoreJobs validates model scores against the user's weights.
type ScoreJobs struct {
	profiles ProfileReader
	userID   string
	logger   *zap.Logger
	now      func() time.Time
}

func NewScoreJobs(profiles ProfileReader, userID string, logger *zap.Logger) *ScoreJobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreJobs{profiles: profiles, userID: userID, logger: logger, now: time.Now}
}

func (s *ScoreJobs) Spec() ai.ToolSpec {
	return ai.ToolSpec{
		Name:        ScoreJobsTool,
		Description: "Record fit scores for saved jobs. Every category score must stay within its weight and the category scores must add up to the overall score.",
		Parameters:  ai.SchemaFor(&ScoreJobsInput{}),
	}
}

func (s *ScoreJobs) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in ScoreJobsInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if len(in.ScoredJobs) == 0 {
		return nil, fmt.Errorf("%w: scoredJobs list is empty", ErrEmptyInput)
	}

	profile, err := s.profiles.GetProfile(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrNoProfile
	}

	now := s.now().UTC()
	seen := make(map[string]struct{}, len(in.ScoredJobs))
	scored := make([]ScoredJob, 0, len(in.ScoredJobs))
	scores := make([]jobs.JobScore, 0, len(in.ScoredJobs))

	for _, entry := range in.ScoredJobs {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: job id is empty", scoring.ErrMalformedScore)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: job %q scored twice", scoring.ErrMalformedScore, id)
		}
		seen[id] = struct{}{}

		if err := scoring.Validate(entry.ScoreBreakdown, profile.ScoringWeights, entry.Score); err != nil {
			return nil, fmt.Errorf("job %q: %w", id, err)
		}

		priority := scoring.PriorityFor(entry.Score)
		if entry.Priority != "" && entry.Priority != priority {
			s.logger.Warn("model priority disagrees with score",
				zap.String("job_id", id),
				zap.Float64("score", entry.Score),
				zap.String("model_priority", string(entry.Priority)),
				zap.String("priority", string(priority)),
			)
		}

		score := jobs.JobScore{
			Overall:   entry.Score,
			Breakdown: entry.ScoreBreakdown,
			Reasoning: strings.TrimSpace(entry.Reasoning),
			Gaps:      entry.Gaps,
			Priority:  priority,
			ScoredAt:  now,
		}
		scored = append(scored, ScoredJob{ID: id, Score: score})
		scores = append(scores, score)
	}

	summary := scoring.Summarize(scores)
	return &ScoredResult{
		ScoredJobs:     scored,
		Count:          summary.Count,
		AverageScore:   summary.AverageScore,
		PriorityCounts: summary.PriorityCounts,
		Message: fmt.Sprintf("Scored %d job(s), average %.1f: %d high, %d medium, %d low priority.",
			summary.Count, summary.AverageScore,
			summary.PriorityCounts.High, summary.PriorityCounts.Medium, summary.PriorityCounts.Low),
	}, nil
}
