// Package router decides which agent handles a user message and owns the
// active-agent state.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/intent"
	"github.com/spigell/job-agents/internal/session"
	"go.uber.org/zap"
)

var ErrSessionBusy = errors.New("session is busy")

type Refusal string

const (
	RefusalNone        Refusal = ""
	RefusalNoProfile   Refusal = "no-profile"
	RefusalNoSavedJobs Refusal = "no-saved-jobs"
)

const (
	noProfileText = "The user asked to score or compare jobs, but has not completed a profile yet. " +
		"Tell them to complete their profile (skills, desired roles, locations and scoring weights) before scoring. " +
		"Their original request was: %q"
	noSavedJobsText = "The user asked to score or compare jobs, but has no saved jobs yet. " +
		"Offer to search for jobs and save some first. " +
		"Their original request was: %q"
)

// Decision is the outcome of routing one message.
type Decision struct {
	Target       chat.Agent `json:"target"`
	DispatchText string     `json:"dispatchText"`
	// ClearTarget empties the target session before dispatch.
	ClearTarget bool    `json:"clearTarget"`
	Refusal     Refusal `json:"refusal,omitempty"`
}

// Route is pure: the first matching rule wins.
func Route(text string, verdict intent.Verdict, hasSavedJobs, hasProfile bool) Decision {
	switch {
	case verdict.WantsScoring && hasSavedJobs && hasProfile:
		return Decision{Target: chat.AgentMatching, DispatchText: text, ClearTarget: true}
	case verdict.WantsScoring && !hasProfile:
		return Decision{Target: chat.AgentDiscovery, DispatchText: fmt.Sprintf(noProfileText, text), Refusal: RefusalNoProfile}
	case verdict.WantsScoring && !hasSavedJobs:
		return Decision{Target: chat.AgentDiscovery, DispatchText: fmt.Sprintf(noSavedJobsText, text), Refusal: RefusalNoSavedJobs}
	default:
		return Decision{Target: chat.AgentDiscovery, DispatchText: text}
	}
}

// Conversation is the session surface the router drives.
type Conversation interface {
	Agent() chat.Agent
	Status() session.Status
	Start(ctx context.Context, text string) (*session.Turn, error)
	StopAndWait(ctx context.Context) error
	Clear() error
}

// State is the agent routing state: the active agent and both sessions.
type State struct {
	logger *zap.Logger

	mu       sync.Mutex
	active   chat.Agent
	sessions map[chat.Agent]Conversation
}

func NewState(discovery, matching Conversation, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		logger: logger,
		active: chat.AgentDiscovery,
		sessions: map[chat.Agent]Conversation{
			chat.AgentDiscovery: discovery,
			chat.AgentMatching:  matching,
		},
	}
}

func (s *State) Active() chat.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Session returns the conversation of an agent, or nil for an unknown agent.
func (s *State) Session(agent chat.Agent) Conversation {
	return s.sessions[agent]
}

// Dispatch starts a turn on the decision's target. A streaming target is
// refused with ErrSessionBusy and nothing changes.
func (s *State) Dispatch(ctx context.Context, d Decision) (*session.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.sessions[d.Target]
	if !ok {
		return nil, fmt.Errorf("dispatch: unknown agent %q", d.Target)
	}
	if target.Status() == session.StatusStreaming {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, d.Target)
	}

	s.active = d.Target

	if d.ClearTarget {
		if err := target.Clear(); err != nil {
			return nil, fmt.Errorf("clear %s session: %w", d.Target, err)
		}
	}

	turn, err := target.Start(ctx, d.DispatchText)
	if errors.Is(err, session.ErrStreaming) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, d.Target)
	}
	if err != nil {
		return nil, fmt.Errorf("start %s turn: %w", d.Target, err)
	}

	s.logger.Debug("dispatched turn",
		zap.String("agent", string(d.Target)),
		zap.Bool("cleared", d.ClearTarget),
		zap.String("refusal", string(d.Refusal)),
	)

	return turn, nil
}

// Clear stops both sessions, waits for them to settle and empties them. The
// active agent returns to discovery. afterClear runs once both are empty.
func (s *State) Clear(ctx context.Context, afterClear func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, agent := range []chat.Agent{chat.AgentDiscovery, chat.AgentMatching} {
		if err := s.sessions[agent].StopAndWait(ctx); err != nil {
			return fmt.Errorf("stop %s session: %w", agent, err)
		}
	}

	for _, agent := range []chat.Agent{chat.AgentDiscovery, chat.AgentMatching} {
		if err := s.sessions[agent].Clear(); err != nil {
			return fmt.Errorf("clear %s session: %w", agent, err)
		}
	}

	if afterClear != nil {
		afterClear()
	}

	s.active = chat.AgentDiscovery
	s.logger.Info("conversation cleared")

	return nil
}
