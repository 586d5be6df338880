package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/jobboard"
	"github.com/spigell/job-agents/internal/jobs"
)

type Searcher interface {
	Search(ctx context.Context, params jobboard.SearchParams) ([]jobs.Job, error)
}

const defaultSearchLimit = 20

// SearchJobs looks up postings on the job board for display.
type SearchJobs struct {
	board Searcher
	// base carries configured search defaults such as areas and schedules.
	base jobboard.SearchParams
	now  func() time.Time
}

func NewSearchJobs(board Searcher, base jobboard.SearchParams) *SearchJobs {
	if base.Limit <= 0 {
		base.Limit = defaultSearchLimit
	}
	return &SearchJobs{board: board, base: base, now: time.Now}
}

func (s *SearchJobs) Spec() ai.ToolSpec {
	return ai.ToolSpec{
		Name:        SearchJobsTool,
		Description: "Search the job board for postings. Results are shown to the user and are not saved.",
		Parameters:  ai.SchemaFor(&SearchJobsInput{}),
	}
}

func (s *SearchJobs) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in SearchJobsInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrEmptyInput)
	}

	params := s.base
	params.Text = strings.TrimSpace(query + " " + strings.TrimSpace(in.Location))
	if in.Limit > 0 && in.Limit < params.Limit {
		params.Limit = in.Limit
	}

	found, err := s.board.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for i := range found {
		found[i].Source = jobs.SourceAPI
		if found[i].DiscoveredAt.IsZero() {
			found[i].DiscoveredAt = now
		}
	}

	return &DisplayResult{Jobs: found, Count: len(found)}, nil
}
