// Package toolresult applies the side effects of completed tool invocations
// exactly once.
package toolresult

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spigell/job-agents/internal/aggregator"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/tools"
	"go.uber.org/zap"
)

// Writer is the part of the persistence gateway the processor writes through.
type Writer interface {
	UpsertJobs(ctx context.Context, userID string, items []jobs.Job) error
	ApplyScores(ctx context.Context, userID string, scores map[string]jobs.JobScore) error
}

// RefreshFunc reloads derived state after a successful write.
type RefreshFunc func(ctx context.Context) error

// ToolError is a side effect that failed. The invocation is not retried.
type ToolError struct {
	InvocationID string `json:"invocationId"`
	ToolName     string `json:"toolName"`
	Message      string `json:"message"`
}

func (e ToolError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.ToolName, e.InvocationID, e.Message)
}

// Outcome describes one invocation handled in a pass.
type Outcome struct {
	InvocationID string       `json:"invocationId"`
	ToolName     string       `json:"toolName"`
	Action       tools.Action `json:"action"`
	Count        int          `json:"count"`
}

type Report struct {
	Applied []Outcome   `json:"applied"`
	Errors  []ToolError `json:"errors"`
}

// Merge appends another pass to the report.
func (r *Report) Merge(other Report) {
	r.Applied = append(r.Applied, other.Applied...)
	r.Errors = append(r.Errors, other.Errors...)
}

type Option func(*Processor)

func WithRefresh(fn RefreshFunc) Option {
	return func(p *Processor) {
		p.refresh = fn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type Processor struct {
	writer  Writer
	userID  string
	refresh RefreshFunc
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	processed map[string]struct{}
}

func New(writer Writer, userID string, opts ...Option) *Processor {
	p := &Processor{
		writer:    writer,
		userID:    userID,
		logger:    zap.NewNop(),
		now:       time.Now,
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Processed reports whether the invocation has been handled.
func (p *Processor) Processed(invocationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.processed[invocationID]
	return ok
}

// markProcessed returns false when the id was already handled.
func (p *Processor) markProcessed(invocationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.processed[invocationID]; ok {
		return false
	}
	p.processed[invocationID] = struct{}{}
	return true
}

// Process walks the timeline and applies every completed invocation that has
// not been handled before. Failures are reported, not retried.
func (p *Processor) Process(ctx context.Context, timeline []aggregator.OrderedMessage) Report {
	var (
		report  Report
		written bool
	)

	for _, msg := range timeline {
		if msg.Role != chat.RoleAssistant {
			continue
		}
		for _, inv := range msg.Invocations() {
			if !inv.Completed() || !p.markProcessed(inv.InvocationID) {
				continue
			}

			outcome, wrote, err := p.apply(ctx, inv)
			if err != nil {
				toolErr := ToolError{InvocationID: inv.InvocationID, ToolName: inv.ToolName, Message: err.Error()}
				report.Errors = append(report.Errors, toolErr)
				p.logger.Error("tool side effect failed",
					zap.String("tool", inv.ToolName),
					zap.String("invocation_id", inv.InvocationID),
					zap.Error(err),
				)
				continue
			}
			if outcome != nil {
				report.Applied = append(report.Applied, *outcome)
			}
			written = written || wrote
		}
	}

	if written && p.refresh != nil {
		if err := p.refresh(ctx); err != nil {
			report.Errors = append(report.Errors, ToolError{Message: fmt.Sprintf("refresh: %v", err)})
			p.logger.Warn("refresh after tool write failed", zap.Error(err))
		}
	}

	return report
}

func (p *Processor) apply(ctx context.Context, inv *chat.ToolInvocation) (*Outcome, bool, error) {
	result, err := tools.Decode(inv.ToolName, inv.Output)
	if errors.Is(err, tools.ErrUnknownTool) {
		p.logger.Debug("skipping output of unknown tool", zap.String("tool", inv.ToolName))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	outcome := &Outcome{InvocationID: inv.InvocationID, ToolName: inv.ToolName, Action: result.Action()}

	switch r := result.(type) {
	case *tools.SavedResult:
		if len(r.SavedJobs) == 0 {
			return outcome, false, nil
		}
		now := p.now()
		items := make([]jobs.Job, len(r.SavedJobs))
		for i, job := range r.SavedJobs {
			job.MarkSaved(now)
			items[i] = job
		}
		if err := p.writer.UpsertJobs(ctx, p.userID, items); err != nil {
			return nil, false, fmt.Errorf("save jobs: %w", err)
		}
		outcome.Count = len(items)
		p.logger.Info("saved jobs from tool", zap.String("invocation_id", inv.InvocationID), zap.Int("count", len(items)))
		return outcome, true, nil

	case *tools.ScoredResult:
		scores := r.Scores()
		if len(scores) == 0 {
			return outcome, false, nil
		}
		if err := p.writer.ApplyScores(ctx, p.userID, scores); err != nil {
			return nil, false, fmt.Errorf("apply scores: %w", err)
		}
		outcome.Count = len(scores)
		p.logger.Info("applied scores from tool", zap.String("invocation_id", inv.InvocationID), zap.Int("count", len(scores)))
		return outcome, true, nil

	case *tools.DisplayResult:
		outcome.Count = r.Count
		return outcome, false, nil

	case *tools.ErrorResult:
		return outcome, false, nil
	}

	return nil, false, fmt.Errorf("unhandled result %T", result)
}
