package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/logger"
	"github.com/spigell/job-agents/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel        = "gemini-2.5-pro"
	defaultMaxRetries   = 3
	defaultMaxLogLength = 200
	retryBaseDelay      = 2 * time.Second
	// Quota errors asking to wait longer than this are returned instead of retried.
	maxQuotaDelay = 30 * time.Second
)

// wait is swapped in tests.
var wait = utils.WaitFor

type contentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type Config struct {
	APIKey       string
	Model        string
	MaxRetries   int
	MaxLogLength int
	// Thinking asks the model to stream its thoughts as reasoning parts.
	Thinking bool
}

// Client streams Gemini responses as collaborator events.
type Client struct {
	models     contentStreamer
	model      string
	maxRetries int
	maxLogLen  int
	thinking   bool
	logger     *zap.Logger
}

func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newClient(client.Models, cfg, log), nil
}

func newClient(models contentStreamer, cfg Config, log *zap.Logger) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	return &Client{
		models:     models,
		model:      model,
		maxRetries: maxRetries,
		maxLogLen:  maxLogLen,
		thinking:   cfg.Thinking,
		logger:     logger.Scoped(log, logger.Scope{Provider: ai.ProviderGemini, Model: model}),
	}
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Stream sends the request and yields events as chunks arrive. Failures before
// the first chunk are retried; once events have been yielded an error ends
// the sequence.
func (c *Client) Stream(ctx context.Context, req ai.Request) iter.Seq2[ai.Event, error] {
	return func(yield func(ai.Event, error) bool) {
		contents, err := toContents(req.History)
		if err != nil {
			yield(ai.Event{}, err)
			return
		}
		if len(contents) == 0 {
			yield(ai.Event{}, errors.New("gemini request has no contents"))
			return
		}

		config := c.config(req)

		log := logger.Scoped(c.logger, logger.Scope{Agent: string(req.Agent)})
		log.Debug("gemini stream request",
			zap.Int("contents", len(contents)),
			zap.Int("tools", len(req.Tools)),
			zap.String("prompt_preview", logger.Preview(lastUserText(req), c.maxLogLen)),
		)

		for attempt := 1; ; attempt++ {
			started, err := c.streamOnce(ctx, contents, config, yield)
			if err == nil || started {
				if err != nil {
					yield(ai.Event{}, fmt.Errorf("gemini stream: %w", err))
				}
				return
			}

			delay, retry := c.retryDelay(err, attempt)
			if !retry {
				yield(ai.Event{}, fmt.Errorf("gemini stream: %w", err))
				return
			}

			log.Warn("retrying gemini request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)

			if err := wait(ctx, delay); err != nil {
				yield(ai.Event{}, err)
				return
			}
		}
	}
}

// streamOnce reports whether any event reached the consumer.
func (c *Client) streamOnce(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, yield func(ai.Event, error) bool) (bool, error) {
	started := false
	for resp, err := range c.models.GenerateContentStream(ctx, c.model, contents, config) {
		if err != nil {
			return started, err
		}

		for _, ev := range responseEvents(resp) {
			started = true
			if !yield(ev, nil) {
				return true, nil
			}
		}
	}
	return started, nil
}

func (c *Client) config(req ai.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		config.SystemInstruction = genai.NewContentFromText(prompt, genai.RoleUser)
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 spec.Name,
				Description:          spec.Description,
				ParametersJsonSchema: spec.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	if c.thinking {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	return config
}

func responseEvents(resp *genai.GenerateContentResponse) []ai.Event {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil
	}

	var events []ai.Event
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = json.RawMessage(`{}`)
			}
			events = append(events, ai.Event{
				Kind: ai.EventToolCall,
				ToolCall: &ai.ToolCall{
					ID:    part.FunctionCall.ID,
					Name:  part.FunctionCall.Name,
					Input: args,
				},
			})
		case part.Thought && part.Text != "":
			events = append(events, ai.Event{Kind: ai.EventReasoning, Text: part.Text})
		case part.Text != "":
			events = append(events, ai.Event{Kind: ai.EventText, Text: part.Text})
		}
	}
	return events
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*s`)

// retryDelay decides whether a failed attempt is retried and after how long.
func (c *Client) retryDelay(err error, attempt int) (time.Duration, bool) {
	if attempt >= c.maxRetries {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	delay := time.Duration(attempt) * retryBaseDelay

	apiErr, ok := asAPIError(err)
	if !ok {
		// Transport failures without a status are treated as transient.
		return delay, true
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if quota, ok := quotaDelay(apiErr.Message); ok {
			if quota > maxQuotaDelay {
				return 0, false
			}
			return quota, true
		}
		return delay, true
	case apiErr.Code >= http.StatusInternalServerError:
		return delay, true
	default:
		return 0, false
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func quotaDelay(message string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(message)
	if len(m) != 2 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func lastUserText(req ai.Request) string {
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == chat.RoleUser {
			return req.History[i].Text()
		}
	}
	return ""
}
