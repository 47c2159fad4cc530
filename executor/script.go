package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"go.uber.org/zap"
)

var _ Strategy = new(ScriptStrategy)

// ScriptStrategy runs the agent's JavaScript. The script sees an `input`
// object and its last expression is the result: a string or
// {content, outputs}. Agents without a script use the fallback.
type ScriptStrategy struct {
	fallback Strategy
}

func NewScriptStrategy(fallback Strategy) *ScriptStrategy {
	return &ScriptStrategy{fallback: fallback}
}

func (s *ScriptStrategy) Name() string {
	return "script"
}

type scriptResult struct {
	Content string         `json:"content"`
	Outputs map[string]any `json:"outputs"`
}

func (s *ScriptStrategy) Produce(ctx context.Context, agent model.Agent, sc model.StepContext) (*Output, error) {
	if agent.Script == "" {
		if s.fallback == nil {
			return nil, &StepError{Type: model.ERROR_TYPE_SCRIPT_STEP, Message: fmt.Sprintf("agent %s has no script", agent.Id), Attempts: 1}
		}
		return s.fallback.Produce(ctx, agent, sc)
	}
	logger.Debug("running agent script", zap.String("agent", agent.Id), zap.String("workflowId", sc.WorkflowId))

	input, err := scriptInput(sc)
	if err != nil {
		return nil, &StepError{Type: model.ERROR_TYPE_SCRIPT_STEP, Message: "encoding script input", Attempts: 1, Err: err}
	}
	vm := goja.New()
	if err := vm.Set("input", input); err != nil {
		return nil, &StepError{Type: model.ERROR_TYPE_SCRIPT_STEP, Message: "binding script input", Attempts: 1, Err: err}
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	val, err := vm.RunString(agent.Script)
	if err != nil {
		return nil, &StepError{Type: model.ERROR_TYPE_SCRIPT_STEP, Message: fmt.Sprintf("executing script of %s", agent.Id), Attempts: 1, Err: err}
	}
	exported := val.Export()
	if str, ok := exported.(string); ok {
		return &Output{Content: str, Attempts: 1}, nil
	}
	data, err := json.Marshal(exported)
	if err != nil {
		return nil, &StepError{Type: model.ERROR_TYPE_SCRIPT_STEP, Message: "encoding script result", Attempts: 1, Err: err}
	}
	var res scriptResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &StepError{Type: model.ERROR_TYPE_SCRIPT_STEP, Message: "script must return a string or {content, outputs}", Attempts: 1, Err: err}
	}
	return &Output{Content: res.Content, Outputs: res.Outputs, Attempts: 1}, nil
}

// scriptInput goes through JSON so the script only sees plain values.
func scriptInput(sc model.StepContext) (map[string]any, error) {
	raw := map[string]any{
		"workflowId": sc.WorkflowId,
		"stepIndex":  sc.StepIndex,
		"step":       sc.Step.Name,
		"action":     sc.Step.Action,
		"prompt":     sc.UserPrompt,
		"context":    sc.Context,
		"inputs":     sc.Inputs,
	}
	if raw["context"] == nil {
		raw["context"] = map[string]any{}
	}
	if sc.Elicitation != nil {
		raw["elicitation"] = sc.Elicitation.Response
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
