package filtering

import (
	"context"
	"strings"

	"github.com/spigell/job-agents/internal/jobs"
	"go.uber.org/zap"
)

type incompleteFilter struct {
	toggle
}

// NewIncomplete creates a filter that drops postings without a title, company or url.
func NewIncomplete() Filter {
	return &incompleteFilter{}
}

func (f *incompleteFilter) Name() string { return "incomplete" }

func (f *incompleteFilter) Validate(*Config) error { return nil }

func (f *incompleteFilter) Apply(_ context.Context, deps Deps, l *jobs.List) (*jobs.List, Step, error) {
	initial := l.Len()
	excluded := l.Retain(func(j *jobs.Job) bool {
		return strings.TrimSpace(j.Title) != "" &&
			strings.TrimSpace(j.Company) != "" &&
			strings.TrimSpace(j.URL) != ""
	})

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding incomplete jobs",
			zap.Strings("excluded_jobs", excluded),
			zap.Int("jobs_left", l.Len()),
		)
	}

	return l, Step{Initial: initial, Dropped: len(excluded), Left: l.Len()}, nil
}

func (f *incompleteFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
