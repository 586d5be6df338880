package ai

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/spigell/job-agents/internal/chat"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type EventKind string

const (
	EventText      EventKind = "text"
	EventReasoning EventKind = "reasoning"
	EventToolCall  EventKind = "tool-call"
)

// ToolCall is a complete tool call emitted by the model. ID may be empty when
// the provider does not assign one.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Event is one streamed fragment of a model response.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall *ToolCall
}

// ToolSpec declares a tool to the model. Parameters is a JSON schema value.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  any
}

// Request is one model call. History ends with the newest message and may
// contain assistant messages carrying finished tool invocations.
type Request struct {
	Agent        chat.Agent
	SystemPrompt string
	History      []chat.Message
	Tools        []ToolSpec
}

// Collaborator streams a model response. The sequence ends after the last
// event or after the first error.
type Collaborator interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Event, error]
	Model() string
}
