package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spigell/job-agents/internal/aggregator"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/tools"
	"go.uber.org/zap"
)

func TestTranscriptPrintsEachAssistantMessageOnce(t *testing.T) {
	saved, err := tools.Encode(&tools.SavedResult{Count: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	timeline := []aggregator.OrderedMessage{
		{Message: chat.Message{ID: "u1", Role: chat.RoleUser, Origin: chat.AgentDiscovery, Parts: []chat.Part{{Kind: chat.PartText, Text: "save both"}}}},
		{Message: chat.Message{ID: "a1", Role: chat.RoleAssistant, Origin: chat.AgentDiscovery, Parts: []chat.Part{
			{Kind: chat.PartReasoning, Text: "user wants both"},
			{Kind: chat.PartToolInvocation, Tool: &chat.ToolInvocation{ToolName: tools.SaveJobsTool, State: chat.StateCompleted, Output: saved}},
			{Kind: chat.PartToolInvocation, Tool: &chat.ToolInvocation{ToolName: tools.ScoreJobsTool, State: chat.StateErrored, Error: "stopped"}},
			{Kind: chat.PartText, Text: "Saved them."},
		}}},
	}

	var buf bytes.Buffer
	tr := newTranscript(&buf, false)
	tr.Print(timeline)
	tr.Print(timeline)

	out := buf.String()
	for _, want := range []string{"[discovery]", "saved 2 job(s)", "scoreJobsTool failed: stopped", "Saved them."} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "save both") || strings.Contains(out, "user wants both") {
		t.Fatalf("user text and reasoning must not be printed:\n%s", out)
	}
	if strings.Count(out, "Saved them.") != 1 {
		t.Fatalf("message printed twice:\n%s", out)
	}

	tr.Reset()
	buf.Reset()
	tr.reasoning = true
	tr.Print(timeline)
	if !strings.Contains(buf.String(), "(thinking) user wants both") {
		t.Fatalf("expected reasoning after reset:\n%s", buf.String())
	}
}

func TestJobLine(t *testing.T) {
	salary := "5000 USD"
	job := jobs.Job{ID: "j1", Title: "Go Developer", Company: "Acme", Salary: &salary, URL: "https://a",
		Score: &jobs.JobScore{Overall: 81.6, Priority: jobs.PriorityHigh}}

	if got, want := jobLine(job), "j1 Go Developer / Acme / 5000 USD / 82 (high) / https://a"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestJobForChoice(t *testing.T) {
	saved := []jobs.Job{
		{ID: "j1", Title: "Go Developer"},
		{ID: "id with spaces", Title: "Platform Engineer"},
	}

	tests := []struct {
		name   string
		idx    int
		wantID string
		wantOK bool
	}{
		{name: "first job", idx: 0, wantID: "j1", wantOK: true},
		{name: "id containing spaces", idx: 1, wantID: "id with spaces", wantOK: true},
		{name: "back entry", idx: len(saved), wantOK: false},
		{name: "negative index", idx: -1, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, ok := jobForChoice(saved, tt.idx)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if job.ID != tt.wantID {
				t.Fatalf("expected id %q, got %q", tt.wantID, job.ID)
			}
		})
	}

	if _, ok := jobForChoice(nil, 0); ok {
		t.Fatalf("empty list must select nothing")
	}
}

func TestApplyProfileFlags(t *testing.T) {
	f := pflag.NewFlagSet("set", pflag.ContinueOnError)
	f.String("name", "", "")
	f.String("headline", "", "")
	f.String("notes", "", "")
	f.StringSlice("skills", nil, "")
	f.StringSlice("roles", nil, "")
	f.StringSlice("locations", nil, "")
	for _, name := range []string{"min-salary", "salary-weight", "location-weight", "company-weight", "role-weight", "requirements-weight"} {
		f.Int(name, 0, "")
	}

	if err := f.Parse([]string{"--name=Ann", "--skills=go,k8s", "--salary-weight=40", "--requirements-weight=0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	profile := jobs.UserProfile{Headline: "keep me", ScoringWeights: jobs.DefaultWeights()}
	if err := applyProfileFlags(f, &profile); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if profile.Name != "Ann" || profile.Headline != "keep me" || len(profile.Skills) != 2 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.ScoringWeights.SalaryMatch != 40 || profile.ScoringWeights.RequirementsFit != 0 {
		t.Fatalf("unexpected weights: %+v", profile.ScoringWeights)
	}
	if profile.ScoringWeights.LocationFit != jobs.DefaultWeights().LocationFit {
		t.Fatalf("unset weights must keep their values")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, &StoreConfig{Driver: "memory"}, zap.NewNop())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if err := mem.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := openStore(ctx, &StoreConfig{Driver: "SQLite", Path: t.TempDir() + "/agents.db"}, zap.NewNop())
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := openStore(ctx, &StoreConfig{Driver: "postgres"}, zap.NewNop()); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
