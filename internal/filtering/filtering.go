package filtering

import (
	"context"
	"fmt"

	"github.com/spigell/job-agents/internal/jobs"
	"go.uber.org/zap"
)

// Filter represents a single filtering step applied to jobs before they are saved.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, l *jobs.List) (*jobs.List, Step, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Logger *zap.Logger
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	ExcludedCompanies []string `mapstructure:"excluded-companies"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// Pipeline is an ordered set of filters sharing one config.
type Pipeline struct {
	cfg   *Config
	deps  Deps
	steps []Filter
}

// New returns the default save-time pipeline.
func New(cfg *Config, logger *zap.Logger) *Pipeline {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		cfg:  cfg,
		deps: Deps{Logger: logger},
		steps: []Filter{
			NewIncomplete(),
			NewDuplicates(),
			NewExcludedCompanies(),
		},
	}
}

// Run executes the pipeline. Steps reports per-filter statistics keyed by name.
func (p *Pipeline) Run(ctx context.Context, l *jobs.List) (*jobs.List, map[string]Step, error) {
	return Run(ctx, p.cfg, p.deps, p.steps, l)
}

func (p *Pipeline) Describe() []Status {
	return Describe(p.steps)
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied filters sequentially.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, l *jobs.List) (*jobs.List, map[string]Step, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	stats := make(map[string]Step, len(steps))
	for _, step := range steps {
		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Debug("filter disabled", zap.String("name", step.Name()))
			}
			continue
		}

		next, info, err := step.Apply(ctx, deps, l)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil {
			deps.Logger.Debug("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		stats[step.Name()] = info
		l = next
	}

	return l, stats, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// toggle carries the disable state shared by all filters.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }
