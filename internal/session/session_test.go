package session

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/chat"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptStep struct {
	events []ai.Event
	err    error
	// block keeps the stream open until the context is cancelled.
	block bool
}

type scriptedCollaborator struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []ai.Request
	streamed chan struct{}
}

func (c *scriptedCollaborator) Model() string { return "scripted" }

func (c *scriptedCollaborator) Stream(ctx context.Context, req ai.Request) iter.Seq2[ai.Event, error] {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var step scriptStep
	if len(c.steps) > 0 {
		step = c.steps[0]
		c.steps = c.steps[1:]
	}
	c.mu.Unlock()

	return func(yield func(ai.Event, error) bool) {
		for _, ev := range step.events {
			if !yield(ev, nil) {
				return
			}
		}
		if step.block {
			if c.streamed != nil {
				close(c.streamed)
			}
			<-ctx.Done()
			yield(ai.Event{}, ctx.Err())
			return
		}
		if step.err != nil {
			yield(ai.Event{}, step.err)
		}
	}
}

func (c *scriptedCollaborator) Requests() []ai.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ai.Request(nil), c.requests...)
}

type toolFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

type stubToolbox map[string]toolFunc

func (b stubToolbox) Specs() []ai.ToolSpec {
	var specs []ai.ToolSpec
	for name := range b {
		specs = append(specs, ai.ToolSpec{Name: name})
	}
	return specs
}

func (b stubToolbox) Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	fn, ok := b[name]
	if !ok {
		return json.RawMessage(`{"action":"error"}`), errors.New("unknown tool")
	}
	return fn(ctx, input)
}

func text(s string) ai.Event {
	return ai.Event{Kind: ai.EventText, Text: s}
}

func call(id, name string) ai.Event {
	return ai.Event{Kind: ai.EventToolCall, ToolCall: &ai.ToolCall{ID: id, Name: name, Input: json.RawMessage(`{"q":1}`)}}
}

func TestSendStreamsText(t *testing.T) {
	collab := &scriptedCollaborator{steps: []scriptStep{{events: []ai.Event{
		{Kind: ai.EventReasoning, Text: "thinking"},
		text("Hello"),
		text(", world"),
	}}}}

	var notified atomic.Int32
	s := New(chat.AgentDiscovery, collab, nil,
		WithSystemPrompt("be brief"),
		WithObserver(func(agent chat.Agent) {
			if agent != chat.AgentDiscovery {
				t.Errorf("unexpected agent %q", agent)
			}
			notified.Add(1)
		}),
	)

	if err := s.Send(context.Background(), "  hi  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser || msgs[0].Text() != "hi" || msgs[0].Origin != chat.AgentDiscovery {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != chat.RoleAssistant || msgs[1].Text() != "Hello, world" || len(msgs[1].Parts) != 2 {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
	if msgs[1].Parts[0].Kind != chat.PartReasoning {
		t.Fatalf("expected reasoning part first, got %q", msgs[1].Parts[0].Kind)
	}
	if s.Status() != StatusIdle {
		t.Fatalf("expected idle status, got %s", s.Status())
	}
	if notified.Load() == 0 {
		t.Fatalf("expected observer to be notified")
	}

	reqs := collab.Requests()
	if len(reqs) != 1 || reqs[0].SystemPrompt != "be brief" || len(reqs[0].History) != 1 {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
}

func TestSendRunsToolsBetweenSteps(t *testing.T) {
	collab := &scriptedCollaborator{steps: []scriptStep{
		{events: []ai.Event{text("Saving."), call("call-1", "save"), call("", "save")}},
		{events: []ai.Event{text(" Done.")}},
	}}

	box := stubToolbox{"save": func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"action":"saved"}`), nil
	}}

	s := New(chat.AgentDiscovery, collab, box)
	if err := s.Send(context.Background(), "save these"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected one assistant message per turn, got %d messages", len(msgs))
	}

	invs := msgs[1].Invocations()
	if len(invs) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invs))
	}
	if invs[0].InvocationID != "call-1" || invs[1].InvocationID == "" {
		t.Fatalf("unexpected invocation ids: %q %q", invs[0].InvocationID, invs[1].InvocationID)
	}
	for _, inv := range invs {
		if !inv.Completed() || string(inv.Output) != `{"action":"saved"}` {
			t.Fatalf("unexpected invocation: %+v", inv)
		}
	}
	if msgs[1].Text() != "Saving. Done." {
		t.Fatalf("unexpected text: %q", msgs[1].Text())
	}

	reqs := collab.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 collaborator steps, got %d", len(reqs))
	}
	last := reqs[1].History[len(reqs[1].History)-1]
	if got := last.Invocations(); len(got) != 2 || !got[0].Completed() {
		t.Fatalf("second step must see completed invocations, got %+v", got)
	}
}

func TestToolErrorMarksInvocationErrored(t *testing.T) {
	collab := &scriptedCollaborator{steps: []scriptStep{
		{events: []ai.Event{call("c1", "missing")}},
		{events: []ai.Event{text("sorry")}},
	}}

	s := New(chat.AgentMatching, collab, stubToolbox{})
	if err := s.Send(context.Background(), "score"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inv := s.Messages()[1].Invocations()[0]
	if inv.State != chat.StateErrored || inv.Error != "unknown tool" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
}

func TestStartWhileStreaming(t *testing.T) {
	collab := &scriptedCollaborator{
		steps:    []scriptStep{{block: true}},
		streamed: make(chan struct{}),
	}
	s := New(chat.AgentDiscovery, collab, nil)

	turn, err := s.Start(context.Background(), "first")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-collab.streamed

	if s.Status() != StatusStreaming {
		t.Fatalf("expected streaming, got %s", s.Status())
	}
	if _, err := s.Start(context.Background(), "second"); !errors.Is(err, ErrStreaming) {
		t.Fatalf("expected ErrStreaming, got %v", err)
	}
	if err := s.Clear(); !errors.Is(err, ErrStreaming) {
		t.Fatalf("expected ErrStreaming from Clear, got %v", err)
	}

	if err := s.StopAndWait(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := turn.Wait(context.Background()); err != nil {
		t.Fatalf("stopped turn must not report an error, got %v", err)
	}
	if !turn.Stopped() {
		t.Fatalf("expected turn to be marked stopped")
	}
	if len(s.Messages()) != 1 {
		t.Fatalf("only the user message should remain, got %d", len(s.Messages()))
	}
}

func TestStopKeepsCompletedInvocations(t *testing.T) {
	collab := &scriptedCollaborator{steps: []scriptStep{
		{events: []ai.Event{call("done", "fast"), call("slow", "slow")}},
	}}

	started := make(chan struct{})
	box := stubToolbox{
		"fast": func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"action":"saved"}`), nil
		},
		"slow": func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	s := New(chat.AgentDiscovery, collab, box)
	turn, err := s.Start(context.Background(), "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-started
	s.Stop()

	select {
	case <-turn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("turn did not end after stop")
	}

	if s.Status() != StatusIdle {
		t.Fatalf("expected idle after stop, got %s", s.Status())
	}

	invs := s.Messages()[1].Invocations()
	if !invs[0].Completed() {
		t.Fatalf("completed invocation must stay completed, got %+v", invs[0])
	}
	if invs[1].State != chat.StateErrored || invs[1].Error != "stopped" {
		t.Fatalf("unfinished invocation must be errored as stopped, got %+v", invs[1])
	}
}

func TestCollaboratorFailureSetsErrorStatus(t *testing.T) {
	boom := errors.New("upstream unavailable")
	collab := &scriptedCollaborator{steps: []scriptStep{
		{events: []ai.Event{text("partial")}, err: boom},
		{events: []ai.Event{text("recovered")}},
	}}

	s := New(chat.AgentMatching, collab, nil)
	if err := s.Send(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	if s.Status() != StatusError || !errors.Is(s.Err(), boom) {
		t.Fatalf("expected error status, got %s (%v)", s.Status(), s.Err())
	}

	if err := s.Send(context.Background(), "again"); err != nil {
		t.Fatalf("session must accept new input after an error: %v", err)
	}
	if s.Status() != StatusIdle || s.Err() != nil {
		t.Fatalf("expected idle after successful turn, got %s (%v)", s.Status(), s.Err())
	}
	if got := len(s.Messages()); got != 4 {
		t.Fatalf("expected 4 messages, got %d", got)
	}
}

func TestStepLimit(t *testing.T) {
	collab := &scriptedCollaborator{steps: []scriptStep{
		{events: []ai.Event{call("a", "noop")}},
		{events: []ai.Event{call("b", "noop")}},
		{events: []ai.Event{call("c", "noop")}},
	}}
	box := stubToolbox{"noop": func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}}

	s := New(chat.AgentDiscovery, collab, box, WithMaxSteps(2))
	if err := s.Send(context.Background(), "loop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(collab.Requests()); got != 2 {
		t.Fatalf("expected 2 steps, got %d", got)
	}
}

func TestPromptBuilderFailure(t *testing.T) {
	s := New(chat.AgentMatching, &scriptedCollaborator{}, nil,
		WithPromptBuilder(func(context.Context) (string, error) { return "", errors.New("no jobs") }),
	)

	if err := s.Send(context.Background(), "score"); err == nil {
		t.Fatalf("expected prompt error")
	}
	if s.Status() != StatusError {
		t.Fatalf("expected error status, got %s", s.Status())
	}
}

func TestStopAndWaitCoversFinalNotification(t *testing.T) {
	collab := &scriptedCollaborator{steps: []scriptStep{{events: []ai.Event{text("done")}}}}

	inFinal := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var s *Session
	s = New(chat.AgentDiscovery, collab, nil, WithObserver(func(chat.Agent) {
		if s.Status() != StatusIdle {
			return
		}
		once.Do(func() { close(inFinal) })
		<-release
	}))

	turn, err := s.Start(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-inFinal

	stopped := make(chan error, 1)
	go func() { stopped <- s.StopAndWait(context.Background()) }()

	select {
	case err := <-stopped:
		close(release)
		t.Fatalf("StopAndWait returned while the turn was still notifying: %v", err)
	case <-turn.Done():
		close(release)
		t.Fatalf("turn closed before its final notification finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-turn.Done():
	default:
		t.Fatalf("expected the turn to be done once StopAndWait returned")
	}

	if err := s.StopAndWait(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopWhenIdle(t *testing.T) {
	s := New(chat.AgentDiscovery, &scriptedCollaborator{}, nil)
	s.Stop()
	if err := s.StopAndWait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", s.Status())
	}
	if _, err := s.Start(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestMessagesAreCopies(t *testing.T) {
	collab := &scriptedCollaborator{steps: []scriptStep{{events: []ai.Event{call("x", "noop")}}, {}}}
	box := stubToolbox{"noop": func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}}

	s := New(chat.AgentDiscovery, collab, box)
	if err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := s.Messages()
	msgs[1].Invocations()[0].State = chat.StatePending
	msgs[0].Parts[0].Text = "changed"

	fresh := s.Messages()
	if !fresh[1].Invocations()[0].Completed() || fresh[0].Text() != "hi" {
		t.Fatalf("session state leaked through Messages")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("expected empty session after clear")
	}
}
