// Package orchestrator connects intent classification, routing, both
// conversation sessions, the timeline and tool side effects.
package orchestrator

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spigell/job-agents/internal/aggregator"
	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/intent"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/logger"
	"github.com/spigell/job-agents/internal/router"
	"github.com/spigell/job-agents/internal/scoring"
	"github.com/spigell/job-agents/internal/session"
	"github.com/spigell/job-agents/internal/store"
	"github.com/spigell/job-agents/internal/toolresult"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed prompts/discovery.md
var discoveryPrompt string

//go:embed prompts/matching.md
var matchingPrompt string

const defaultWriteTimeout = 30 * time.Second

var ErrNoProfile = errors.New("profile is not set")

type Config struct {
	UserID     string
	Gateway    store.Gateway
	Classifier intent.Classifier

	Discovery      ai.Collaborator
	Matching       ai.Collaborator
	DiscoveryTools session.Toolbox
	MatchingTools  session.Toolbox

	MaxSteps int
	Logger   *zap.Logger
}

// TurnResult is what one user message produced.
type TurnResult struct {
	Decision   router.Decision               `json:"decision"`
	Timeline   []aggregator.OrderedMessage   `json:"timeline"`
	ToolErrors []toolresult.ToolError        `json:"toolErrors,omitempty"`
	Statuses   map[chat.Agent]session.Status `json:"statuses"`
	Stopped    bool                          `json:"stopped,omitempty"`
	// Error holds the collaborator failure that ended the turn.
	Error string `json:"error,omitempty"`
}

type Orchestrator struct {
	userID     string
	gateway    store.Gateway
	classifier intent.Classifier
	logger     *zap.Logger

	discovery *session.Session
	matching  *session.Session
	state     *router.State
	agg       *aggregator.Aggregator
	processor *toolresult.Processor

	writeTimeout time.Duration

	// syncMu serializes merge and process passes.
	syncMu   sync.Mutex
	timeline []aggregator.OrderedMessage
	pending  []toolresult.ToolError

	snapMu    sync.RWMutex
	savedJobs []jobs.Job
	profile   *jobs.UserProfile
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("orchestrator requires a gateway")
	}
	if cfg.Discovery == nil || cfg.Matching == nil {
		return nil, errors.New("orchestrator requires both collaborators")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("orchestrator requires a user id")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = intent.NewKeywordClassifier()
	}

	o := &Orchestrator{
		userID:       cfg.UserID,
		gateway:      cfg.Gateway,
		classifier:   classifier,
		logger:       log,
		writeTimeout: defaultWriteTimeout,
	}

	o.agg = aggregator.New(log.Named("aggregator"))
	o.processor = toolresult.New(cfg.Gateway, cfg.UserID,
		toolresult.WithLogger(log.Named("toolresult")),
		toolresult.WithRefresh(o.Refresh),
	)

	o.discovery = session.New(chat.AgentDiscovery, cfg.Discovery, cfg.DiscoveryTools,
		session.WithSystemPrompt(discoveryPrompt),
		session.WithLogger(logger.Scoped(log, logger.Scope{Agent: string(chat.AgentDiscovery), User: cfg.UserID})),
		session.WithMaxSteps(cfg.MaxSteps),
		session.WithObserver(o.observe),
	)
	o.matching = session.New(chat.AgentMatching, cfg.Matching, cfg.MatchingTools,
		session.WithPromptBuilder(o.matchingPrompt),
		session.WithLogger(logger.Scoped(log, logger.Scope{Agent: string(chat.AgentMatching), User: cfg.UserID})),
		session.WithMaxSteps(cfg.MaxSteps),
		session.WithObserver(o.observe),
	)

	o.state = router.NewState(o.discovery, o.matching, log.Named("router"))

	return o, nil
}

// HandleInput routes one user message, runs the turn to completion and
// returns the resulting timeline.
func (o *Orchestrator) HandleInput(ctx context.Context, text string) (*TurnResult, error) {
	if err := o.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh state: %w", err)
	}

	hasJobs, hasProfile := o.flags()
	verdict := o.classifier.Classify(text)
	decision := router.Route(text, verdict, hasJobs, hasProfile)

	o.logger.Info("routing user message",
		zap.String(logger.FieldAgent, string(decision.Target)),
		zap.Bool("wants_scoring", verdict.WantsScoring),
		zap.Bool("has_saved_jobs", hasJobs),
		zap.Bool("has_profile", hasProfile),
		zap.String("refusal", string(decision.Refusal)),
	)

	turn, err := o.state.Dispatch(ctx, decision)
	if err != nil {
		return nil, err
	}

	waitErr := turn.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	timeline, toolErrors := o.settle()

	result := &TurnResult{
		Decision:   decision,
		Timeline:   timeline,
		ToolErrors: toolErrors,
		Statuses:   o.Statuses(),
		Stopped:    turn.Stopped(),
	}
	if waitErr != nil {
		result.Error = waitErr.Error()
	}

	return result, nil
}

// Stop cancels the running turn of one agent.
func (o *Orchestrator) Stop(agent chat.Agent) error {
	switch agent {
	case chat.AgentDiscovery:
		o.discovery.Stop()
	case chat.AgentMatching:
		o.matching.Stop()
	default:
		return fmt.Errorf("unknown agent %q", agent)
	}
	return nil
}

// Clear waits for both sessions to stop, empties them and restarts the
// timeline. Persisted jobs and the profile are untouched.
func (o *Orchestrator) Clear(ctx context.Context) error {
	return o.state.Clear(ctx, func() {
		o.syncMu.Lock()
		defer o.syncMu.Unlock()

		o.agg.Reset()
		o.timeline = nil
		o.pending = nil
	})
}

// Timeline runs a merge pass and returns the current timeline.
func (o *Orchestrator) Timeline() []aggregator.OrderedMessage {
	o.sync()

	o.syncMu.Lock()
	defer o.syncMu.Unlock()
	return append([]aggregator.OrderedMessage(nil), o.timeline...)
}

func (o *Orchestrator) Statuses() map[chat.Agent]session.Status {
	return map[chat.Agent]session.Status{
		chat.AgentDiscovery: o.discovery.Status(),
		chat.AgentMatching:  o.matching.Status(),
	}
}

func (o *Orchestrator) Active() chat.Agent {
	return o.state.Active()
}

// Anomalies returns message ids flagged by the timeline merge.
func (o *Orchestrator) Anomalies() []aggregator.Anomaly {
	return o.agg.Anomalies()
}

// Refresh reloads saved jobs and the profile.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	var (
		saved   []jobs.Job
		profile *jobs.UserProfile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		saved, err = o.gateway.GetJobs(gctx, o.userID)
		if err != nil {
			return fmt.Errorf("load saved jobs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		profile, err = o.gateway.GetProfile(gctx, o.userID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	o.snapMu.Lock()
	o.savedJobs = saved
	o.profile = profile
	o.snapMu.Unlock()

	return nil
}

// SavedJobs returns the jobs loaded by the last refresh.
func (o *Orchestrator) SavedJobs() []jobs.Job {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return append([]jobs.Job(nil), o.savedJobs...)
}

func (o *Orchestrator) Profile() *jobs.UserProfile {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	if o.profile == nil {
		return nil
	}
	p := *o.profile
	return &p
}

// SaveProfile validates and stores the profile, then refreshes.
func (o *Orchestrator) SaveProfile(ctx context.Context, profile jobs.UserProfile) error {
	if err := o.gateway.SaveProfile(ctx, o.userID, profile); err != nil {
		return err
	}
	return o.Refresh(ctx)
}

// DeleteJob removes a saved job on explicit request, then refreshes.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	if err := o.gateway.DeleteJob(ctx, o.userID, jobID); err != nil {
		return err
	}
	return o.Refresh(ctx)
}

func (o *Orchestrator) flags() (hasJobs, hasProfile bool) {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return len(o.savedJobs) > 0, o.profile != nil
}

func (o *Orchestrator) observe(chat.Agent) {
	o.sync()
}

// sync merges both sessions and applies new tool results. Writes use their
// own deadline so a stopped turn still commits what already completed.
func (o *Orchestrator) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), o.writeTimeout)
	defer cancel()

	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	o.timeline = o.agg.Merge(o.discovery.Messages(), o.matching.Messages())
	report := o.processor.Process(ctx, o.timeline)
	o.pending = append(o.pending, report.Errors...)
}

// settle runs a final pass and drains the collected tool errors.
func (o *Orchestrator) settle() ([]aggregator.OrderedMessage, []toolresult.ToolError) {
	o.sync()

	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	errs := o.pending
	o.pending = nil
	return append([]aggregator.OrderedMessage(nil), o.timeline...), errs
}

type promptJob struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location,omitempty"`
	Salary       string   `json:"salary,omitempty"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// matchingPrompt renders the matching instructions with the current profile,
// the saved jobs and the per-category maximums.
func (o *Orchestrator) matchingPrompt(context.Context) (string, error) {
	o.snapMu.RLock()
	profile := o.profile
	saved := append([]jobs.Job(nil), o.savedJobs...)
	o.snapMu.RUnlock()

	if profile == nil {
		return "", ErrNoProfile
	}

	items := make([]promptJob, 0, len(saved))
	for _, job := range saved {
		items = append(items, promptJob{
			ID:           job.ID,
			Title:        job.Title,
			Company:      job.Company,
			Location:     job.Location,
			Salary:       job.SalaryText(),
			Description:  job.Description,
			Requirements: job.Requirements,
		})
	}

	jobsJSON, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal saved jobs: %w", err)
	}
	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}

	return strings.NewReplacer(
		"{{CONSTRAINTS}}", scoring.ConstraintPrompt(profile.ScoringWeights),
		"{{PROFILE_JSON}}", string(profileJSON),
		"{{JOBS_JSON}}", string(jobsJSON),
	).Replace(matchingPrompt), nil
}
