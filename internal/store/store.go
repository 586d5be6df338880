// Package store persists saved jobs and user profiles.
package store

import (
	"context"
	"errors"

	"github.com/spigell/job-agents/internal/jobs"
)

var ErrJobNotFound = errors.New("job not found")

// Gateway scopes every operation to a single user id.
type Gateway interface {
	// GetJobs returns the saved jobs of the user ordered by save time.
	GetJobs(ctx context.Context, userID string) ([]jobs.Job, error)

	// UpsertJobs inserts or replaces jobs by id. Existing scores and resumes
	// survive when the incoming job carries none.
	UpsertJobs(ctx context.Context, userID string, items []jobs.Job) error

	// ApplyScores attaches scores to saved jobs. Either every score is written
	// or none is; an unknown job id yields ErrJobNotFound.
	ApplyScores(ctx context.Context, userID string, scores map[string]jobs.JobScore) error

	// GetProfile returns nil without an error when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*jobs.UserProfile, error)

	// SaveProfile rejects profiles with invalid weights before writing.
	SaveProfile(ctx context.Context, userID string, profile jobs.UserProfile) error

	// DeleteJob removes one saved job. Deleting an unknown id yields ErrJobNotFound.
	DeleteJob(ctx context.Context, userID, jobID string) error
}
