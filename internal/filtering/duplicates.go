package filtering

import (
	"context"
	"strings"

	"github.com/spigell/job-agents/internal/jobs"
	"go.uber.org/zap"
)

type duplicatesFilter struct {
	toggle
}

// NewDuplicates creates a filter that keeps the first job of every id or url in a batch.
func NewDuplicates() Filter {
	return &duplicatesFilter{}
}

func (f *duplicatesFilter) Name() string { return "duplicates" }

func (f *duplicatesFilter) Validate(*Config) error { return nil }

func (f *duplicatesFilter) Apply(_ context.Context, deps Deps, l *jobs.List) (*jobs.List, Step, error) {
	initial := l.Len()
	ids := make(map[string]struct{}, initial)
	urls := make(map[string]struct{}, initial)

	excluded := l.Retain(func(j *jobs.Job) bool {
		url := strings.ToLower(strings.TrimRight(strings.TrimSpace(j.URL), "/"))
		if _, ok := ids[j.ID]; ok {
			return false
		}
		if _, ok := urls[url]; ok && url != "" {
			return false
		}
		ids[j.ID] = struct{}{}
		if url != "" {
			urls[url] = struct{}{}
		}
		return true
	})

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding duplicated jobs",
			zap.Strings("excluded_jobs", excluded),
			zap.Int("jobs_left", l.Len()),
		)
	}

	return l, Step{Initial: initial, Dropped: len(excluded), Left: l.Len()}, nil
}
