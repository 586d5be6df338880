package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/router"
	"github.com/spigell/job-agents/internal/session"
	"github.com/spigell/job-agents/internal/store"
	"github.com/spigell/job-agents/internal/tools"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type step struct {
	events []ai.Event
	block  bool
}

type fakeCollaborator struct {
	mu        sync.Mutex
	steps     []step
	requests  []ai.Request
	streaming chan struct{}
}

func (f *fakeCollaborator) Model() string { return "fake" }

func (f *fakeCollaborator) Stream(ctx context.Context, req ai.Request) iter.Seq2[ai.Event, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var s step
	if len(f.steps) > 0 {
		s = f.steps[0]
		f.steps = f.steps[1:]
	}
	f.mu.Unlock()

	return func(yield func(ai.Event, error) bool) {
		for _, ev := range s.events {
			if !yield(ev, nil) {
				return
			}
		}
		if s.block {
			close(f.streaming)
			<-ctx.Done()
			yield(ai.Event{}, ctx.Err())
		}
	}
}

func (f *fakeCollaborator) lastRequest() ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type failingWrites struct {
	*store.Memory
}

func (failingWrites) UpsertJobs(context.Context, string, []jobs.Job) error {
	return errors.New("disk full")
}

func toolCall(id, name, input string) ai.Event {
	return ai.Event{Kind: ai.EventToolCall, ToolCall: &ai.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}}
}

func text(s string) ai.Event {
	return ai.Event{Kind: ai.EventText, Text: s}
}

const saveInput = `{"jobs": [{"id": "job-1", "title": "Go Developer", "company": "Acme", "url": "https://acme.example/1"}]}`

func newTestOrchestrator(t *testing.T, gw store.Gateway, discovery, matching *fakeCollaborator) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		UserID:         "u1",
		Gateway:        gw,
		Discovery:      discovery,
		Matching:       matching,
		DiscoveryTools: tools.NewToolbox(nil, tools.NewSaveJobs(nil, nil)),
		MatchingTools:  tools.NewToolbox(nil, tools.NewScoreJobs(gw, "u1", nil)),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func seed(t *testing.T, gw *store.Memory) {
	t.Helper()
	ctx := context.Background()
	if err := gw.SaveProfile(ctx, "u1", jobs.UserProfile{Name: "Ann", Skills: []string{"go"}, ScoringWeights: jobs.DefaultWeights()}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	job := jobs.Job{ID: "job-1", Title: "Go Developer", Company: "Acme", URL: "https://acme.example/1"}
	job.MarkSaved(time.Now())
	if err := gw.UpsertJobs(ctx, "u1", []jobs.Job{job}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestHandleInputSavesJobsOnce(t *testing.T) {
	gw := store.NewMemory()
	discovery := &fakeCollaborator{steps: []step{
		{events: []ai.Event{text("Saving it."), toolCall("inv-1", tools.SaveJobsTool, saveInput)}},
		{events: []ai.Event{text(" Done.")}},
	}}
	o := newTestOrchestrator(t, gw, discovery, &fakeCollaborator{})

	result, err := o.HandleInput(context.Background(), "find go jobs and save the first one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Decision.Target != chat.AgentDiscovery || result.Decision.Refusal != router.RefusalNone {
		t.Fatalf("unexpected decision: %+v", result.Decision)
	}
	if len(result.Timeline) != 2 || result.Timeline[0].Sequence != 0 || result.Timeline[1].Sequence != 1 {
		t.Fatalf("unexpected timeline: %+v", result.Timeline)
	}
	if len(result.ToolErrors) != 0 || result.Error != "" {
		t.Fatalf("unexpected errors: %+v %q", result.ToolErrors, result.Error)
	}

	saved, err := gw.GetJobs(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get jobs: %v", err)
	}
	if len(saved) != 1 || !saved[0].IsSaved() {
		t.Fatalf("expected one saved job, got %+v", saved)
	}
	if len(o.SavedJobs()) != 1 {
		t.Fatalf("expected the snapshot to be refreshed after the write")
	}

	// Further passes must not write again.
	if err := gw.DeleteJob(context.Background(), "u1", "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	o.Timeline()
	if saved, _ := gw.GetJobs(context.Background(), "u1"); len(saved) != 0 {
		t.Fatalf("completed invocation was applied twice")
	}
}

func TestHandleInputRefusesScoringWithoutProfile(t *testing.T) {
	discovery := &fakeCollaborator{steps: []step{{events: []ai.Event{text("Please fill in your profile first.")}}}}
	matching := &fakeCollaborator{}
	o := newTestOrchestrator(t, store.NewMemory(), discovery, matching)

	result, err := o.HandleInput(context.Background(), "Score my jobs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision.Target != chat.AgentDiscovery || result.Decision.Refusal != router.RefusalNoProfile {
		t.Fatalf("unexpected decision: %+v", result.Decision)
	}

	history := discovery.lastRequest().History
	if got := history[len(history)-1].Text(); !strings.Contains(got, "profile") || !strings.Contains(got, "Score my jobs") {
		t.Fatalf("expected synthesized refusal text, got %q", got)
	}
	if len(matching.requests) != 0 {
		t.Fatalf("matching must not be called")
	}
}

func TestHandleInputScoresSavedJobs(t *testing.T) {
	gw := store.NewMemory()
	seed(t, gw)

	score := `{"scoredJobs": [{"id": "job-1", "score": 80, "scoreBreakdown": {"salaryMatch": 10, "locationFit": 20, "companyAppeal": 25, "roleMatch": 15, "requirementsFit": 10}, "reasoning": "good", "gaps": [], "priority": "medium"}]}`
	matching := &fakeCollaborator{steps: []step{
		{events: []ai.Event{toolCall("s-1", tools.ScoreJobsTool, score)}},
		{events: []ai.Event{text("Scored one job.")}},
		{events: []ai.Event{text("Scored again.")}},
	}}
	o := newTestOrchestrator(t, gw, &fakeCollaborator{}, matching)

	result, err := o.HandleInput(context.Background(), "rank my saved jobs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision.Target != chat.AgentMatching || !result.Decision.ClearTarget {
		t.Fatalf("unexpected decision: %+v", result.Decision)
	}

	prompt := matching.lastRequest().SystemPrompt
	for _, want := range []string{"job-1", "salaryMatch: 0 to 30 points", `"name": "Ann"`} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("matching prompt lacks %q:\n%s", want, prompt)
		}
	}

	saved, _ := gw.GetJobs(context.Background(), "u1")
	if saved[0].Score == nil || saved[0].Score.Overall != 80 || saved[0].Score.Priority != jobs.PriorityMedium {
		t.Fatalf("expected score to be applied, got %+v", saved[0].Score)
	}

	if _, err := o.HandleInput(context.Background(), "compare them again"); err != nil {
		t.Fatalf("second scoring turn: %v", err)
	}
	if got := len(matching.lastRequest().History); got != 1 {
		t.Fatalf("matching session must be cleared before dispatch, history has %d messages", got)
	}
}

func TestHandleInputReportsGatewayErrors(t *testing.T) {
	discovery := &fakeCollaborator{steps: []step{
		{events: []ai.Event{toolCall("inv-1", tools.SaveJobsTool, saveInput)}},
		{events: []ai.Event{text("Saved.")}},
	}}
	o := newTestOrchestrator(t, failingWrites{store.NewMemory()}, discovery, &fakeCollaborator{})

	result, err := o.HandleInput(context.Background(), "save it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.ToolErrors) != 1 || !strings.Contains(result.ToolErrors[0].Message, "disk full") {
		t.Fatalf("expected gateway error in result, got %+v", result.ToolErrors)
	}
}

func TestClearWaitsForStreamsAndKeepsPersistedState(t *testing.T) {
	gw := store.NewMemory()
	seed(t, gw)

	discovery := &fakeCollaborator{
		steps:     []step{{events: []ai.Event{text("Looking...")}, block: true}, {events: []ai.Event{text("fresh")}}},
		streaming: make(chan struct{}),
	}
	o := newTestOrchestrator(t, gw, discovery, &fakeCollaborator{})

	type outcome struct {
		result *TurnResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.HandleInput(context.Background(), "find remote jobs")
		done <- outcome{res, err}
	}()

	<-discovery.streaming

	if _, err := o.HandleInput(context.Background(), "hello?"); !errors.Is(err, router.ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	if err := o.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}

	out := <-done
	if out.err != nil || !out.result.Stopped {
		t.Fatalf("expected the interrupted turn to end stopped, got %+v, %v", out.result, out.err)
	}

	if o.Statuses()[chat.AgentDiscovery] != session.StatusIdle {
		t.Fatalf("expected idle discovery session")
	}
	if o.Active() != chat.AgentDiscovery {
		t.Fatalf("expected discovery to be active")
	}
	if tl := o.Timeline(); len(tl) != 0 {
		t.Fatalf("expected empty timeline after clear, got %d messages", len(tl))
	}
	if saved, _ := gw.GetJobs(context.Background(), "u1"); len(saved) != 1 {
		t.Fatalf("clear must keep saved jobs")
	}

	result, err := o.HandleInput(context.Background(), "start over")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Timeline[0].Sequence != 0 {
		t.Fatalf("expected sequences to restart, got %d", result.Timeline[0].Sequence)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without gateway")
	}
	if _, err := New(Config{Gateway: store.NewMemory(), Discovery: &fakeCollaborator{}, Matching: &fakeCollaborator{}}); err == nil {
		t.Fatalf("expected error without user id")
	}
}
