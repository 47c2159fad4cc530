package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"go.uber.org/zap"
)

// Executor runs one step of one agent. It has no side effects beyond the
// returned result.
type Executor struct {
	strategy    Strategy
	interactive map[string]struct{}
}

func NewExecutor(strategy Strategy, interactiveActions []string) *Executor {
	set := make(map[string]struct{}, len(interactiveActions))
	for _, a := range interactiveActions {
		set[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	return &Executor{
		strategy:    strategy,
		interactive: set,
	}
}

func (e *Executor) StrategyName() string {
	return e.strategy.Name()
}

// IsInteractive reports whether the step waits for operator input: either it
// is declared interactive or its action is in the configured set.
func (e *Executor) IsInteractive(step model.Step) bool {
	if step.Interactive {
		return true
	}
	_, ok := e.interactive[strings.ToLower(step.Action)]
	return ok
}

func (e *Executor) Execute(ctx context.Context, agent model.Agent, sc model.StepContext) model.StepResult {
	if e.IsInteractive(sc.Step) && sc.Elicitation == nil {
		return model.StepResult{
			Elicitation: &model.ElicitationRequest{
				StepIndex:   sc.StepIndex,
				StepName:    sc.Step.Name,
				AgentId:     agent.Id,
				Prompt:      elicitationPrompt(agent, sc.Step),
				RequestedAt: time.Now().UTC(),
			},
		}
	}
	out, err := e.strategy.Produce(ctx, agent, sc)
	if err != nil {
		res := model.StepResult{Error: err.Error(), ErrorType: model.ERROR_TYPE_EXECUTION, Attempts: 1}
		var serr *StepError
		if errors.As(err, &serr) {
			res.ErrorType = serr.Type
			res.Attempts = serr.Attempts
		}
		logger.Warn("step failed", zap.String("workflowId", sc.WorkflowId), zap.String("agent", agent.Id), zap.String("step", sc.Step.Name), zap.String("type", res.ErrorType), zap.Error(err))
		return res
	}
	return model.StepResult{
		Success:   true,
		Content:   out.Content,
		Outputs:   out.Outputs,
		Attempts:  out.Attempts,
		Artifacts: []model.Artifact{newArtifact(agent, sc, out.Content)},
	}
}

func newArtifact(agent model.Agent, sc model.StepContext, content string) model.Artifact {
	name := agent.Produces
	if len(sc.Step.Creates) > 0 {
		name = sc.Step.Creates[0]
	}
	return model.Artifact{
		Id:        uuid.NewString(),
		Name:      name,
		Type:      agent.ArtifactType,
		Agent:     agent.Id,
		Step:      sc.Step.Name,
		StepIndex: sc.StepIndex,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func elicitationPrompt(agent model.Agent, step model.Step) string {
	if step.ElicitationPrompt != "" {
		return step.ElicitationPrompt
	}
	return fmt.Sprintf("%s needs your input before running %s.", agent.Name, step.Action)
}
