package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spigell/job-agents/internal/ai"
	"go.uber.org/zap"
)

// Executor runs one tool on behalf of the model.
type Executor interface {
	Spec() ai.ToolSpec
	Execute(ctx context.Context, input json.RawMessage) (Result, error)
}

// Toolbox dispatches tool calls by name. The zero value has no tools.
type Toolbox struct {
	executors map[string]Executor
	order     []string
	logger    *zap.Logger
}

func NewToolbox(logger *zap.Logger, executors ...Executor) *Toolbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Toolbox{
		executors: make(map[string]Executor, len(executors)),
		logger:    logger,
	}
	for _, e := range executors {
		if e == nil {
			continue
		}
		name := e.Spec().Name
		if _, ok := t.executors[name]; !ok {
			t.order = append(t.order, name)
		}
		t.executors[name] = e
	}
	return t
}

// Specs returns the tool declarations in registration order.
func (t *Toolbox) Specs() []ai.ToolSpec {
	if t == nil {
		return nil
	}
	specs := make([]ai.ToolSpec, 0, len(t.order))
	for _, name := range t.order {
		specs = append(specs, t.executors[name].Spec())
	}
	return specs
}

// Execute runs a tool and returns its encoded output. On failure the output
// is an encoded ErrorResult and the error is returned as well.
func (t *Toolbox) Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	var executor Executor
	if t != nil {
		executor = t.executors[name]
	}
	if executor == nil {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		return errorOutput(err), err
	}

	result, err := executor.Execute(ctx, input)
	if err != nil {
		t.logger.Warn("tool execution failed", zap.String("tool", name), zap.Error(err))
		return errorOutput(err), err
	}

	out, err := Encode(result)
	if err != nil {
		return errorOutput(err), err
	}

	t.logger.Debug("tool executed", zap.String("tool", name), zap.String("action", string(result.Action())))
	return out, nil
}

func errorOutput(err error) json.RawMessage {
	out, encErr := Encode(&ErrorResult{Message: err.Error()})
	if encErr != nil {
		return nil
	}
	return out
}
