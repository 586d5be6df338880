package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spigell/job-agents/internal/aggregator"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/tools"
)

// transcript prints timeline messages once each.
type transcript struct {
	out     io.Writer
	printed map[string]bool
	// reasoning enables printing of model thoughts.
	reasoning bool
}

func newTranscript(out io.Writer, reasoning bool) *transcript {
	return &transcript{out: out, printed: make(map[string]bool), reasoning: reasoning}
}

// Print writes assistant messages not printed yet. User messages are skipped
// since the user just typed them.
func (t *transcript) Print(timeline []aggregator.OrderedMessage) {
	for _, m := range timeline {
		if t.printed[m.ID] {
			continue
		}
		t.printed[m.ID] = true
		if m.Role != chat.RoleAssistant {
			continue
		}
		fmt.Fprint(t.out, renderMessage(m.Message, t.reasoning))
	}
}

func (t *transcript) Reset() {
	t.printed = make(map[string]bool)
}

func renderMessage(m chat.Message, reasoning bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", m.Origin)

	for _, p := range m.Parts {
		switch p.Kind {
		case chat.PartText:
			if text := strings.TrimSpace(p.Text); text != "" {
				b.WriteString(text)
				b.WriteString("\n")
			}
		case chat.PartReasoning:
			if reasoning && strings.TrimSpace(p.Text) != "" {
				fmt.Fprintf(&b, "  (thinking) %s\n", strings.TrimSpace(p.Text))
			}
		case chat.PartToolInvocation:
			b.WriteString(renderInvocation(p.Tool))
		}
	}

	b.WriteString("\n")
	return b.String()
}

func renderInvocation(inv *chat.ToolInvocation) string {
	if inv == nil {
		return ""
	}

	switch inv.State {
	case chat.StateErrored:
		return fmt.Sprintf("  %s failed: %s\n", inv.ToolName, inv.Error)
	case chat.StateCompleted:
	default:
		return fmt.Sprintf("  %s %s\n", inv.ToolName, inv.State)
	}

	result, err := tools.Decode(inv.ToolName, inv.Output)
	if err != nil {
		return fmt.Sprintf("  %s completed\n", inv.ToolName)
	}

	switch r := result.(type) {
	case *tools.SavedResult:
		return fmt.Sprintf("  saved %d job(s)\n", r.Count)
	case *tools.ScoredResult:
		return fmt.Sprintf("  scored %d job(s), average %.1f (high %d, medium %d, low %d)\n",
			r.Count, r.AverageScore, r.PriorityCounts.High, r.PriorityCounts.Medium, r.PriorityCounts.Low)
	case *tools.DisplayResult:
		var b strings.Builder
		fmt.Fprintf(&b, "  found %d job(s)\n", r.Count)
		for _, job := range r.Jobs {
			b.WriteString("    ")
			b.WriteString(jobLine(job))
			b.WriteString("\n")
		}
		return b.String()
	case *tools.ErrorResult:
		return fmt.Sprintf("  %s reported: %s\n", inv.ToolName, r.Message)
	}
	return ""
}

// jobLine formats a job the way the list and select prompts show it.
func jobLine(job jobs.Job) string {
	line := fmt.Sprintf("%s %s / %s", job.ID, job.Title, job.Company)
	if salary := job.SalaryText(); salary != "" {
		line += " / " + salary
	}
	if job.Score != nil {
		line += fmt.Sprintf(" / %.0f (%s)", job.Score.Overall, job.Score.Priority)
	}
	if job.URL != "" {
		line += " / " + job.URL
	}
	return line
}
