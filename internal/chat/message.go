package chat

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Agent names one of the two conversational roles.
type Agent string

const (
	AgentDiscovery Agent = "discovery"
	AgentMatching  Agent = "matching"
)

func (a Agent) Valid() bool {
	return a == AgentDiscovery || a == AgentMatching
}

type PartKind string

const (
	PartText           PartKind = "text"
	PartReasoning      PartKind = "reasoning"
	PartToolInvocation PartKind = "tool-invocation"
)

type InvocationState string

const (
	StatePending    InvocationState = "pending"
	StateInputReady InvocationState = "input-ready"
	StateCompleted  InvocationState = "completed"
	StateErrored    InvocationState = "errored"
)

// ToolInvocation is one tool call made by the model. Once completed its output
// is never rewritten.
type ToolInvocation struct {
	ToolName     string          `json:"toolName"`
	InvocationID string          `json:"invocationId"`
	State        InvocationState `json:"state"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (t *ToolInvocation) Completed() bool {
	return t != nil && t.State == StateCompleted
}

// Finished reports whether the invocation reached a terminal state.
func (t *ToolInvocation) Finished() bool {
	return t != nil && (t.State == StateCompleted || t.State == StateErrored)
}

type Part struct {
	Kind PartKind        `json:"kind"`
	Text string          `json:"text,omitempty"`
	Tool *ToolInvocation `json:"tool,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Origin    Agent     `json:"origin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// Invocations returns the tool invocations in part order.
func (m *Message) Invocations() []*ToolInvocation {
	var out []*ToolInvocation
	for i := range m.Parts {
		if m.Parts[i].Kind == PartToolInvocation && m.Parts[i].Tool != nil {
			out = append(out, m.Parts[i].Tool)
		}
	}
	return out
}

// Clone returns a deep copy, so readers never share memory with a streaming message.
func (m Message) Clone() Message {
	out := m
	if m.Parts == nil {
		return out
	}

	out.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		out.Parts[i] = p
		if p.Tool != nil {
			tool := *p.Tool
			tool.Input = cloneRaw(p.Tool.Input)
			tool.Output = cloneRaw(p.Tool.Output)
			out.Parts[i].Tool = &tool
		}
	}
	return out
}

func CloneAll(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i := range messages {
		out[i] = messages[i].Clone()
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
