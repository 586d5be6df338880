// Package openai streams chat completions from OpenAI-compatible endpoints.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/logger"
	"go.uber.org/zap"
)

const defaultModel = "gpt-4o"

type Config struct {
	APIKey string
	// BaseURL points at an OpenAI-compatible gateway. Empty means api.openai.com.
	BaseURL string
	Model   string
}

type Client struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

func New(cfg Config, log *zap.Logger, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, extra...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger.Scoped(log, logger.Scope{Provider: ai.ProviderOpenAI, Model: model}),
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Stream(ctx context.Context, req ai.Request) iter.Seq2[ai.Event, error] {
	return func(yield func(ai.Event, error) bool) {
		tools, err := convertTools(req.Tools)
		if err != nil {
			yield(ai.Event{}, err)
			return
		}

		params := openai.ChatCompletionNewParams{
			Model:    c.model,
			Messages: convertMessages(req.SystemPrompt, req.History),
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		logger.Scoped(c.logger, logger.Scope{Agent: string(req.Agent)}).Debug("openai stream request",
			zap.Int("messages", len(params.Messages)),
			zap.Int("tools", len(tools)),
		)

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !yield(ai.Event{Kind: ai.EventText, Text: chunk.Choices[0].Delta.Content}, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(ai.Event{}, fmt.Errorf("openai stream: %w", err))
			return
		}

		// Tool call arguments arrive in fragments; they are complete only once
		// the stream has ended.
		if len(acc.Choices) == 0 {
			return
		}
		for _, call := range acc.Choices[0].Message.ToolCalls {
			if !yield(toolEvent(call.ID, call.Function.Name, call.Function.Arguments), nil) {
				return
			}
		}
	}
}

func toolEvent(id, name, arguments string) ai.Event {
	input := json.RawMessage(strings.TrimSpace(arguments))
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ai.Event{Kind: ai.EventToolCall, ToolCall: &ai.ToolCall{ID: id, Name: name, Input: input}}
}

func convertTools(specs []ai.ToolSpec) ([]openai.ChatCompletionToolParam, error) {
	result := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		params, err := ai.SchemaMap(spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s parameters: %w", spec.Name, err)
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  shared.FunctionParameters(params),
			},
		})
	}
	return result, nil
}

func convertMessages(system string, history []chat.Message) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion
	if system = strings.TrimSpace(system); system != "" {
		result = append(result, openai.SystemMessage(system))
	}

	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			if text := strings.TrimSpace(msg.Text()); text != "" {
				result = append(result, openai.UserMessage(text))
			}
		case chat.RoleAssistant:
			result = append(result, assistantMessages(msg)...)
		}
	}

	return result
}

// assistantMessages splits one assistant message into assistant turns, each
// followed by the tool messages answering its calls.
func assistantMessages(msg chat.Message) []openai.ChatCompletionMessageParamUnion {
	var (
		out     []openai.ChatCompletionMessageParamUnion
		text    strings.Builder
		calls   []openai.ChatCompletionMessageToolCallParam
		answers []openai.ChatCompletionMessageParamUnion
	)

	flush := func() {
		if text.Len() == 0 && len(calls) == 0 {
			return
		}
		if len(calls) == 0 {
			out = append(out, openai.AssistantMessage(text.String()))
		} else {
			assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if text.Len() > 0 {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text.String())}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
			out = append(out, answers...)
		}
		text.Reset()
		calls, answers = nil, nil
	}

	for _, part := range msg.Parts {
		switch part.Kind {
		case chat.PartText:
			if part.Text == "" {
				continue
			}
			if len(calls) > 0 {
				flush()
			}
			text.WriteString(part.Text)
		case chat.PartToolInvocation:
			inv := part.Tool
			if !inv.Finished() {
				continue
			}
			args := string(inv.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID:   inv.InvocationID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      inv.ToolName,
					Arguments: args,
				},
			})
			answers = append(answers, openai.ToolMessage(toolContent(inv), inv.InvocationID))
		}
	}
	flush()

	return out
}

func toolContent(inv *chat.ToolInvocation) string {
	if inv.State == chat.StateErrored {
		body, _ := json.Marshal(map[string]string{"error": inv.Error})
		return string(body)
	}
	if len(inv.Output) == 0 {
		return "{}"
	}
	return string(inv.Output)
}
