package toolresult

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/job-agents/internal/aggregator"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/scoring"
	"github.com/spigell/job-agents/internal/tools"
)

type recordingWriter struct {
	mu        sync.Mutex
	upserts   [][]jobs.Job
	scores    []map[string]jobs.JobScore
	upsertErr error
	scoreErr  error
}

func (w *recordingWriter) UpsertJobs(_ context.Context, userID string, items []jobs.Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if userID != "u1" {
		return errors.New("wrong user")
	}
	if w.upsertErr != nil {
		return w.upsertErr
	}
	w.upserts = append(w.upserts, items)
	return nil
}

func (w *recordingWriter) ApplyScores(_ context.Context, _ string, scores map[string]jobs.JobScore) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scoreErr != nil {
		return w.scoreErr
	}
	w.scores = append(w.scores, scores)
	return nil
}

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func encode(t *testing.T, r tools.Result) json.RawMessage {
	t.Helper()
	out, err := tools.Encode(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func timeline(invs ...*chat.ToolInvocation) []aggregator.OrderedMessage {
	parts := make([]chat.Part, len(invs))
	for i, inv := range invs {
		parts[i] = chat.Part{Kind: chat.PartToolInvocation, Tool: inv}
	}
	return []aggregator.OrderedMessage{
		{Message: chat.Message{ID: "u", Role: chat.RoleUser, Parts: []chat.Part{{Kind: chat.PartText, Text: "save"}}}, Sequence: 0},
		{Message: chat.Message{ID: "a", Role: chat.RoleAssistant, Parts: parts}, Sequence: 1},
	}
}

func savedInvocation(t *testing.T, id string) *chat.ToolInvocation {
	return &chat.ToolInvocation{
		ToolName:     tools.SaveJobsTool,
		InvocationID: id,
		State:        chat.StateCompleted,
		Output: encode(t, &tools.SavedResult{
			SavedJobs: []jobs.Job{{ID: "j1", Title: "Go", Company: "Acme", URL: "https://a"}},
			Count:     1,
		}),
	}
}

func TestProcessWritesOnce(t *testing.T) {
	writer := &recordingWriter{}
	refreshes := 0
	p := New(writer, "u1", WithRefresh(func(context.Context) error {
		refreshes++
		return nil
	}))
	p.now = func() time.Time { return fixedNow }

	tl := timeline(savedInvocation(t, "inv-1"))

	first := p.Process(context.Background(), tl)
	second := p.Process(context.Background(), tl)

	if len(writer.upserts) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(writer.upserts))
	}
	if refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", refreshes)
	}
	if len(first.Applied) != 1 || first.Applied[0].Action != tools.ActionSaved || len(second.Applied) != 0 {
		t.Fatalf("unexpected reports: %+v / %+v", first, second)
	}

	saved := writer.upserts[0][0]
	if !saved.IsSaved() || !saved.StatusUpdatedAt.Equal(fixedNow) {
		t.Fatalf("expected job to be marked saved, got %+v", saved)
	}
	if !p.Processed("inv-1") {
		t.Fatalf("expected invocation to be processed")
	}
}

func TestProcessConcurrentPasses(t *testing.T) {
	writer := &recordingWriter{}
	p := New(writer, "u1")
	tl := timeline(savedInvocation(t, "inv-1"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Process(context.Background(), tl)
		}()
	}
	wg.Wait()

	if len(writer.upserts) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(writer.upserts))
	}
}

func TestProcessScores(t *testing.T) {
	writer := &recordingWriter{}
	p := New(writer, "u1")

	score := jobs.JobScore{Overall: 80, Priority: scoring.PriorityFor(80)}
	inv := &chat.ToolInvocation{
		ToolName:     tools.ScoreJobsTool,
		InvocationID: "inv-s",
		State:        chat.StateCompleted,
		Output:       encode(t, &tools.ScoredResult{ScoredJobs: []tools.ScoredJob{{ID: "j1", Score: score}}, Count: 1}),
	}

	report := p.Process(context.Background(), timeline(inv))
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", report.Errors)
	}
	if len(writer.scores) != 1 || writer.scores[0]["j1"].Overall != 80 {
		t.Fatalf("unexpected score writes: %+v", writer.scores)
	}
}

func TestProcessSkipsWithoutSideEffects(t *testing.T) {
	writer := &recordingWriter{}
	refreshed := false
	p := New(writer, "u1", WithRefresh(func(context.Context) error {
		refreshed = true
		return nil
	}))

	invs := []*chat.ToolInvocation{
		{ToolName: tools.SaveJobsTool, InvocationID: "errored", State: chat.StateErrored, Error: "boom"},
		{ToolName: tools.SaveJobsTool, InvocationID: "pending", State: chat.StateInputReady},
		{ToolName: tools.SaveJobsTool, InvocationID: "error-variant", State: chat.StateCompleted, Output: encode(t, &tools.ErrorResult{Message: "no jobs"})},
		{ToolName: tools.SearchJobsTool, InvocationID: "display", State: chat.StateCompleted, Output: encode(t, &tools.DisplayResult{Count: 3})},
		{ToolName: "weather", InvocationID: "unknown", State: chat.StateCompleted, Output: json.RawMessage(`{"action":"saved"}`)},
	}

	report := p.Process(context.Background(), timeline(invs...))

	if len(writer.upserts) != 0 || len(writer.scores) != 0 || refreshed {
		t.Fatalf("expected no side effects")
	}
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", report.Errors)
	}
	if len(report.Applied) != 2 {
		t.Fatalf("expected error and display variants to be reported, got %+v", report.Applied)
	}
	if p.Processed("errored") || p.Processed("pending") {
		t.Fatalf("unfinished invocations must not be marked processed")
	}
}

func TestProcessReportsGatewayErrors(t *testing.T) {
	writer := &recordingWriter{scoreErr: errors.New("job not found")}
	p := New(writer, "u1")

	inv := &chat.ToolInvocation{
		ToolName:     tools.ScoreJobsTool,
		InvocationID: "inv-s",
		State:        chat.StateCompleted,
		Output:       encode(t, &tools.ScoredResult{ScoredJobs: []tools.ScoredJob{{ID: "missing"}}, Count: 1}),
	}

	report := p.Process(context.Background(), timeline(inv))
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0].Message, "job not found") {
		t.Fatalf("expected gateway error in report, got %+v", report)
	}
	if !p.Processed("inv-s") {
		t.Fatalf("failed invocation must stay processed")
	}

	writer.scoreErr = nil
	p.Process(context.Background(), timeline(inv))
	if len(writer.scores) != 0 {
		t.Fatalf("failed invocation must not be retried")
	}
}

func TestProcessReportsMalformedOutput(t *testing.T) {
	p := New(&recordingWriter{}, "u1")
	inv := &chat.ToolInvocation{ToolName: tools.SaveJobsTool, InvocationID: "bad", State: chat.StateCompleted, Output: json.RawMessage(`{"action":"scored"}`)}

	report := p.Process(context.Background(), timeline(inv))
	if len(report.Errors) != 1 || report.Errors[0].ToolName != tools.SaveJobsTool {
		t.Fatalf("expected decode error, got %+v", report)
	}
}
