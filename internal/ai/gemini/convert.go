package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spigell/job-agents/internal/chat"
	"google.golang.org/genai"
)

// toContents converts the chat history into Gemini contents. Function calls
// stay in the model turn that issued them; their responses follow as a user
// turn before any later model text.
func toContents(history []chat.Message) ([]*genai.Content, error) {
	var contents []*genai.Content

	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			if text := strings.TrimSpace(msg.Text()); text != "" {
				contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
			}
		case chat.RoleAssistant:
			converted, err := assistantContents(msg)
			if err != nil {
				return nil, err
			}
			contents = append(contents, converted...)
		}
	}

	return contents, nil
}

func assistantContents(msg chat.Message) ([]*genai.Content, error) {
	var (
		out       []*genai.Content
		model     []*genai.Part
		responses []*genai.Part
	)

	flush := func() {
		if len(model) > 0 {
			out = append(out, genai.NewContentFromParts(model, genai.RoleModel))
		}
		if len(responses) > 0 {
			out = append(out, genai.NewContentFromParts(responses, genai.RoleUser))
		}
		model, responses = nil, nil
	}

	for _, part := range msg.Parts {
		switch part.Kind {
		case chat.PartText:
			if part.Text == "" {
				continue
			}
			if len(responses) > 0 {
				flush()
			}
			model = append(model, &genai.Part{Text: part.Text})
		case chat.PartToolInvocation:
			inv := part.Tool
			if !inv.Finished() {
				continue
			}
			call, response, err := invocationParts(inv)
			if err != nil {
				return nil, err
			}
			model = append(model, call)
			responses = append(responses, response)
		}
	}
	flush()

	return out, nil
}

func invocationParts(inv *chat.ToolInvocation) (*genai.Part, *genai.Part, error) {
	args := map[string]any{}
	if len(inv.Input) > 0 {
		if err := json.Unmarshal(inv.Input, &args); err != nil {
			return nil, nil, fmt.Errorf("decode %s input of %s: %w", inv.ToolName, inv.InvocationID, err)
		}
	}

	response := map[string]any{}
	if inv.State == chat.StateErrored {
		response["error"] = inv.Error
	} else {
		var output any
		if len(inv.Output) > 0 {
			if err := json.Unmarshal(inv.Output, &output); err != nil {
				return nil, nil, fmt.Errorf("decode %s output of %s: %w", inv.ToolName, inv.InvocationID, err)
			}
		}
		response["output"] = output
	}

	call := &genai.Part{FunctionCall: &genai.FunctionCall{ID: inv.InvocationID, Name: inv.ToolName, Args: args}}
	resp := &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: inv.InvocationID, Name: inv.ToolName, Response: response}}

	return call, resp, nil
}
