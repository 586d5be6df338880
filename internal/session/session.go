// Package session wraps one ongoing exchange with a model collaborator.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/chat"
	"go.uber.org/zap"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

const (
	defaultMaxSteps = 5
	stoppedMessage  = "stopped"
)

var (
	ErrStreaming    = errors.New("session is streaming")
	ErrEmptyMessage = errors.New("message is empty")
)

// Toolbox executes the tools the collaborator calls.
type Toolbox interface {
	Specs() []ai.ToolSpec
	Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)
}

// Observer is called after every change of the message list or status.
type Observer func(agent chat.Agent)

// PromptBuilder produces the system prompt at the start of every turn.
type PromptBuilder func(ctx context.Context) (string, error)

type Option func(*Session)

func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.prompt = func(context.Context) (string, error) { return prompt, nil }
	}
}

func WithPromptBuilder(builder PromptBuilder) Option {
	return func(s *Session) {
		if builder != nil {
			s.prompt = builder
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxSteps bounds the collaborator calls of one turn.
func WithMaxSteps(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Session) {
		s.observer = observer
	}
}

// Session holds the message list of one agent. Only the turn goroutine
// mutates messages while streaming; readers get deep copies.
type Session struct {
	agent    chat.Agent
	collab   ai.Collaborator
	tools    Toolbox
	prompt   PromptBuilder
	maxSteps int
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	messages []chat.Message
	status   Status
	err      error
	cancel   context.CancelFunc
	// done belongs to the latest turn and is closed once its goroutine exits.
	done chan struct{}
	// current is the index of the assistant message of the running turn, or -1.
	current int
}

func New(agent chat.Agent, collab ai.Collaborator, tools Toolbox, opts ...Option) *Session {
	s := &Session{
		agent:    agent,
		collab:   collab,
		tools:    tools,
		prompt:   func(context.Context) (string, error) { return "", nil },
		maxSteps: defaultMaxSteps,
		logger:   zap.NewNop(),
		now:      time.Now,
		status:   StatusIdle,
		current:  -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Turn is a running exchange started by Start.
type Turn struct {
	done    chan struct{}
	err     error
	stopped bool
}

// Done is closed when the turn goroutine has exited.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn ends and returns the collaborator error, if any.
// A stopped turn is not an error.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

// Stopped reports whether the turn ended because of a stop. Valid after Done.
func (t *Turn) Stopped() bool {
	return t.stopped
}

func (s *Session) Agent() chat.Agent {
	return s.agent
}

func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.CloneAll(s.messages)
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the failure of the last turn when the status is error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start appends the user message and streams the reply in the background.
// The status is streaming when Start returns without an error.
func (s *Session) Start(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.status == StatusStreaming {
		s.mu.Unlock()
		return nil, ErrStreaming
	}

	s.messages = append(s.messages, chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Parts:     []chat.Part{{Kind: chat.PartText, Text: text}},
		Origin:    s.agent,
		CreatedAt: s.now().UTC(),
	})

	turnCtx, cancel := context.WithCancel(ctx)
	turn := &Turn{done: make(chan struct{})}

	s.status = StatusStreaming
	s.err = nil
	s.cancel = cancel
	s.done = turn.done
	s.current = -1
	s.mu.Unlock()

	s.notify()

	go s.run(turnCtx, cancel, turn)

	return turn, nil
}

// Send runs one full turn.
func (s *Session) Send(ctx context.Context, text string) error {
	turn, err := s.Start(ctx, text)
	if err != nil {
		return err
	}
	return turn.Wait(ctx)
}

// Stop cancels the running turn. It is a no-op when the session is not streaming.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusStreaming && s.cancel != nil {
		s.cancel()
	}
}

// StopAndWait stops the running turn and waits for its goroutine to exit.
func (s *Session) StopAndWait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	if s.status == StatusStreaming && s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear empties the message list and resets an error status.
func (s *Session) Clear() error {
	s.mu.Lock()
	if s.status == StatusStreaming {
		s.mu.Unlock()
		return ErrStreaming
	}
	s.messages = nil
	s.status = StatusIdle
	s.err = nil
	s.current = -1
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, turn *Turn) {
	defer cancel()

	err := s.loop(ctx)
	s.finish(ctx, turn, err)
}

func (s *Session) loop(ctx context.Context) error {
	prompt, err := s.prompt(ctx)
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}

	var specs []ai.ToolSpec
	if s.tools != nil {
		specs = s.tools.Specs()
	}

	for step := 1; step <= s.maxSteps; step++ {
		req := ai.Request{
			Agent:        s.agent,
			SystemPrompt: prompt,
			History:      s.Messages(),
			Tools:        specs,
		}

		s.logger.Debug("collaborator step", zap.Int("step", step), zap.Int("history", len(req.History)))

		called, err := s.step(ctx, req)
		if err != nil {
			return err
		}
		if !called {
			return nil
		}

		s.executeTools(ctx)

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.logger.Warn("turn reached the step limit", zap.Int("max_steps", s.maxSteps))
	return nil
}

func (s *Session) step(ctx context.Context, req ai.Request) (bool, error) {
	called := false
	for ev, err := range s.collab.Stream(ctx, req) {
		if err != nil {
			return called, err
		}

		switch ev.Kind {
		case ai.EventText:
			s.appendText(chat.PartText, ev.Text)
		case ai.EventReasoning:
			s.appendText(chat.PartReasoning, ev.Text)
		case ai.EventToolCall:
			if ev.ToolCall == nil {
				continue
			}
			s.appendToolCall(ev.ToolCall)
			called = true
		default:
			continue
		}

		s.notify()
	}

	return called, ctx.Err()
}

// assistant returns the assistant message of the running turn, creating it
// on first use. Callers hold s.mu.
func (s *Session) assistant() *chat.Message {
	if s.current < 0 {
		s.messages = append(s.messages, chat.Message{
			ID:        uuid.NewString(),
			Role:      chat.RoleAssistant,
			Origin:    s.agent,
			CreatedAt: s.now().UTC(),
		})
		s.current = len(s.messages) - 1
	}
	return &s.messages[s.current]
}

func (s *Session) appendText(kind chat.PartKind, text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.assistant()
	if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Kind == kind {
		msg.Parts[n-1].Text += text
		return
	}
	msg.Parts = append(msg.Parts, chat.Part{Kind: kind, Text: text})
}

func (s *Session) appendToolCall(call *ai.ToolCall) {
	id := strings.TrimSpace(call.ID)
	if id == "" {
		id = uuid.NewString()
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.assistant()
	msg.Parts = append(msg.Parts, chat.Part{
		Kind: chat.PartToolInvocation,
		Tool: &chat.ToolInvocation{
			ToolName:     call.Name,
			InvocationID: id,
			State:        chat.StateInputReady,
			Input:        append(json.RawMessage(nil), input...),
		},
	})
}

type pendingCall struct {
	name  string
	id    string
	input json.RawMessage
}

func (s *Session) executeTools(ctx context.Context) {
	s.mu.Lock()
	var pending []pendingCall
	if s.current >= 0 {
		for _, inv := range s.messages[s.current].Invocations() {
			if inv.State == chat.StateInputReady {
				pending = append(pending, pendingCall{
					name:  inv.ToolName,
					id:    inv.InvocationID,
					input: append(json.RawMessage(nil), inv.Input...),
				})
			}
		}
	}
	s.mu.Unlock()

	for _, call := range pending {
		if ctx.Err() != nil {
			return
		}

		var (
			out json.RawMessage
			err = fmt.Errorf("no toolbox configured for %s", call.name)
		)
		if s.tools != nil {
			out, err = s.tools.Execute(ctx, call.name, call.input)
		}

		// A result that arrives after a stop is discarded.
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if inv := s.invocation(call.id); inv != nil && inv.State == chat.StateInputReady {
			inv.Output = out
			if err != nil {
				inv.State = chat.StateErrored
				inv.Error = err.Error()
			} else {
				inv.State = chat.StateCompleted
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Debug("tool invocation errored", zap.String("tool", call.name), zap.String("invocation_id", call.id), zap.Error(err))
		}
		s.notify()
	}
}

// invocation finds a tool invocation of the running turn. Callers hold s.mu.
func (s *Session) invocation(id string) *chat.ToolInvocation {
	if s.current < 0 {
		return nil
	}
	for _, inv := range s.messages[s.current].Invocations() {
		if inv.InvocationID == id {
			return inv
		}
	}
	return nil
}

func (s *Session) finish(ctx context.Context, turn *Turn, err error) {
	stopped := ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))

	reason := "turn ended before the tool ran"
	if stopped {
		reason = stoppedMessage
	}

	s.mu.Lock()
	if s.current >= 0 {
		for _, inv := range s.messages[s.current].Invocations() {
			if !inv.Finished() {
				inv.State = chat.StateErrored
				inv.Error = reason
			}
		}
	}

	switch {
	case stopped:
		s.status = StatusIdle
		turn.stopped = true
	case err != nil:
		s.status = StatusError
		s.err = err
		turn.err = err
	default:
		s.status = StatusIdle
	}
	s.cancel = nil
	s.current = -1
	s.mu.Unlock()

	if turn.err != nil {
		s.logger.Warn("turn failed", zap.Error(turn.err))
	} else if stopped {
		s.logger.Info("turn stopped")
	}

	s.notify()
	close(turn.done)
}

func (s *Session) notify() {
	if s.observer != nil {
		s.observer(s.agent)
	}
}
