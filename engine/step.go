package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mohitkumar/agentorchy/analytics"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/util"
	"go.uber.org/zap"
)

// OUTPUTS_KEY holds structured step outputs in the workflow context, keyed
// by step name.
const OUTPUTS_KEY = "outputs"

type pendingStep struct {
	agent model.Agent
	sc    model.StepContext
	epoch uint64
}

// ExecuteNextStep runs the current step of a RUNNING workflow and applies its
// result. It is a no-op for any other status and returns ErrStepInFlight when
// the workflow already has a step executing. After an applied step the next
// one is dispatched.
func (e *Engine) ExecuteNextStep(ctx context.Context, workflowId string) error {
	inst, err := e.load(ctx, workflowId)
	if err != nil {
		return err
	}
	next, err := e.step(ctx, inst)
	if next {
		e.dispatch(workflowId)
	}
	return err
}

func (e *Engine) step(ctx context.Context, inst *instance) (bool, error) {
	p, err := e.beginStep(ctx, inst)
	if err != nil || p == nil {
		return false, err
	}
	return e.runStep(ctx, inst, p)
}

// runStep calls the executor without holding the workflow lock and applies
// the result.
func (e *Engine) runStep(ctx context.Context, inst *instance, p *pendingStep) (bool, error) {
	start := time.Now()
	res := e.execute(ctx, p)
	return e.finishStep(ctx, inst, p, res, time.Since(start))
}

func (e *Engine) execute(ctx context.Context, p *pendingStep) (res model.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("step execution panicked", zap.String("workflowId", p.sc.WorkflowId), zap.String("step", p.sc.Step.Name), zap.String("panic", fmt.Sprint(r)))
			res = model.StepResult{Error: fmt.Sprint(r), ErrorType: model.ERROR_TYPE_EXECUTION}
		}
	}()
	return e.executor.Execute(ctx, p.agent, p.sc)
}

func (e *Engine) beginStep(ctx context.Context, inst *instance) (*pendingStep, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	wf := inst.wf
	if wf.Status != model.RUNNING {
		return nil, nil
	}
	if inst.stepping {
		return nil, fmt.Errorf("workflow %s: %w", wf.Id, model.ErrStepInFlight)
	}
	step, ok := wf.CurrentStepDef()
	if !ok {
		if err := transition(wf, model.COMPLETED, OP_STEP, e.now()); err != nil {
			return nil, err
		}
		wf.CurrentAgent = ""
		return nil, e.commit(ctx, inst, statusMessage(model.MSG_WORKFLOW_COMPLETED, "workflow completed", wf))
	}

	agent, err := e.agents.Get(step.Agent)
	if err != nil {
		rec := e.stepRecord(wf, step, 0, 0)
		msg := e.fail(wf, step, step.Agent, model.ERROR_TYPE_AGENT_NOT_FOUND, err.Error(), 0)
		if err := e.commit(ctx, inst, msg); err != nil {
			return nil, err
		}
		e.collector.RecordStepFailure(rec, model.ERROR_TYPE_AGENT_NOT_FOUND, err.Error())
		return nil, nil
	}

	msgs := make([]model.Message, 0, 2)
	if step.Checkpoint && !hasStepCheckpoint(wf, wf.CurrentStep, autoCheckpointName(step)) {
		cp := newCheckpoint(wf, autoCheckpointName(step), e.now())
		wf.Checkpoints = append(wf.Checkpoints, cp)
		msgs = append(msgs, checkpointMessage(cp))
	}
	wf.CurrentAgent = agent.Id
	msgs = append(msgs, model.Message{
		From:    model.ORCHESTRATOR,
		To:      agent.Id,
		Type:    model.MSG_ACTIVATION,
		Content: fmt.Sprintf("%s activated for %s", agent.Name, step.Name),
		Data: map[string]any{
			"stepIndex": wf.CurrentStep,
			"step":      step.Name,
			"action":    step.Action,
		},
	})
	if err := e.commit(ctx, inst, msgs...); err != nil {
		return nil, err
	}
	inst.stepping = true
	return &pendingStep{
		agent: agent,
		sc:    stepContext(inst.wf, step),
		epoch: inst.epoch,
	}, nil
}

func stepContext(wf *model.Workflow, step model.Step) model.StepContext {
	snap := wf.Clone()
	sc := model.StepContext{
		WorkflowId: wf.Id,
		StepIndex:  wf.CurrentStep,
		Step:       step,
		UserPrompt: wf.UserPrompt,
		Context:    snap.Context,
		Artifacts:  snap.Artifacts,
	}
	if len(step.Inputs) > 0 {
		sc.Inputs = util.ResolveInputParams(snap.Context, step.Inputs)
	}
	if resp, ok := snap.ElicitationResponses[step.Name]; ok {
		sc.Elicitation = &resp
	}
	return sc
}

// finishStep applies res unless the workflow moved on while the executor ran.
// It reports whether another step should be dispatched.
func (e *Engine) finishStep(ctx context.Context, inst *instance, p *pendingStep, res model.StepResult, elapsed time.Duration) (bool, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.stepping = false
	wf := inst.wf
	if ctx.Err() != nil || inst.epoch != p.epoch || wf.Status != model.RUNNING || wf.CurrentStep != p.sc.StepIndex {
		logger.Info("discarding step result", zap.String("workflowId", wf.Id), zap.String("step", p.sc.Step.Name), zap.String("status", string(wf.Status)))
		return wf.Status == model.RUNNING && ctx.Err() == nil, nil
	}
	step := p.sc.Step
	rec := e.stepRecord(wf, step, elapsed, res.Attempts)
	rec.Agent = p.agent.Id

	switch {
	case res.NeedsElicitation():
		req := *res.Elicitation
		wf.PendingElicitation = &req
		if err := transition(wf, model.PAUSED_FOR_ELICITATION, OP_STEP, e.now()); err != nil {
			return false, err
		}
		msg := model.Message{
			From:    p.agent.Id,
			To:      model.USER,
			Type:    model.MSG_ELICITATION_REQUEST,
			Content: req.Prompt,
			Data: map[string]any{
				"stepIndex": req.StepIndex,
				"step":      req.StepName,
			},
		}
		if err := e.commit(ctx, inst, msg); err != nil {
			return false, err
		}
		logger.Info("workflow waiting for elicitation", zap.String("workflowId", wf.Id), zap.String("step", step.Name))
		return false, nil

	case res.Success:
		msgs := e.advance(wf, p.agent, step, res)
		if err := e.commit(ctx, inst, msgs...); err != nil {
			return false, err
		}
		e.collector.RecordStepSuccess(rec)
		logger.Debug("step completed", zap.String("workflowId", wf.Id), zap.String("step", step.Name), zap.String("agent", p.agent.Id), zap.Duration("elapsed", elapsed))
		return inst.wf.Status == model.RUNNING, nil

	default:
		errType := res.ErrorType
		if errType == "" {
			errType = model.ERROR_TYPE_EXECUTION
		}
		msg := e.fail(wf, step, p.agent.Id, errType, res.Error, res.Attempts)
		if err := e.commit(ctx, inst, msg); err != nil {
			return false, err
		}
		e.collector.RecordStepFailure(rec, errType, res.Error)
		logger.Warn("step failed", zap.String("workflowId", wf.Id), zap.String("step", step.Name), zap.String("agent", p.agent.Id), zap.String("errorType", errType), zap.String("error", res.Error))
		return false, nil
	}
}

// advance merges a successful result into wf and moves to the next step.
func (e *Engine) advance(wf *model.Workflow, agent model.Agent, step model.Step, res model.StepResult) []model.Message {
	now := e.now()
	names := make([]string, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		if a.Agent == "" {
			a.Agent = agent.Id
		}
		if a.Step == "" {
			a.Step = step.Name
		}
		a.StepIndex = wf.CurrentStep
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		wf.Artifacts = append(wf.Artifacts, a)
		names = append(names, a.Name)
	}
	mergeOutputs(wf, step, res)

	msgs := []model.Message{{
		From:    agent.Id,
		To:      model.ORCHESTRATOR,
		Type:    model.MSG_COMPLETION,
		Content: fmt.Sprintf("%s completed %s", agent.Name, step.Name),
		Data: map[string]any{
			"stepIndex": wf.CurrentStep,
			"step":      step.Name,
			"artifacts": names,
			"attempts":  res.Attempts,
		},
	}}
	wf.CurrentStep++
	if wf.CurrentStep >= len(wf.Sequence) {
		wf.CurrentAgent = ""
		// RUNNING -> COMPLETED is always a valid edge.
		_ = transition(wf, model.COMPLETED, OP_STEP, now)
		return append(msgs, statusMessage(model.MSG_WORKFLOW_COMPLETED, "workflow completed", wf))
	}
	next := wf.Sequence[wf.CurrentStep]
	wf.CurrentAgent = next.Agent
	if next.Agent != agent.Id {
		msgs = append(msgs, model.Message{
			From:    agent.Id,
			To:      next.Agent,
			Type:    model.MSG_INTER_AGENT,
			Content: fmt.Sprintf("handing off %s to %s", step.Name, next.Name),
			Data: map[string]any{
				"artifacts": names,
				"nextStep":  next.Name,
			},
		})
	}
	return msgs
}

// mergeOutputs stores the step content under each creates key (or the step
// name) and structured outputs under OUTPUTS_KEY.
func mergeOutputs(wf *model.Workflow, step model.Step, res model.StepResult) {
	if len(step.Creates) == 0 {
		wf.Context[step.Name] = res.Content
	}
	for _, key := range step.Creates {
		wf.Context[key] = res.Content
	}
	if len(res.Outputs) == 0 {
		return
	}
	outputs, ok := wf.Context[OUTPUTS_KEY].(map[string]any)
	if !ok {
		outputs = make(map[string]any)
	}
	outputs[step.Name] = res.Outputs
	wf.Context[OUTPUTS_KEY] = outputs
}

func (e *Engine) fail(wf *model.Workflow, step model.Step, agentId string, errType string, reason string, attempts int) model.Message {
	wf.Errors = append(wf.Errors, model.WorkflowError{
		Timestamp: e.now(),
		Step:      step.Name,
		StepIndex: wf.CurrentStep,
		Agent:     agentId,
		Error:     reason,
		Type:      errType,
	})
	// RUNNING -> ERROR is always a valid edge.
	_ = transition(wf, model.ERROR, OP_STEP, e.now())
	return model.Message{
		From:    agentId,
		To:      model.ORCHESTRATOR,
		Type:    model.MSG_ERROR,
		Content: reason,
		Data: map[string]any{
			"errorType": errType,
			"stepIndex": wf.CurrentStep,
			"step":      step.Name,
			"attempts":  attempts,
		},
	}
}

func (e *Engine) stepRecord(wf *model.Workflow, step model.Step, elapsed time.Duration, attempts int) analytics.StepRecord {
	seq := wf.SequenceName
	if wf.TemplateName != "" {
		seq = wf.TemplateName
	}
	return analytics.StepRecord{
		Sequence:   seq,
		WorkflowId: wf.Id,
		Agent:      step.Agent,
		Step:       step.Name,
		StepIndex:  wf.CurrentStep,
		Duration:   elapsed,
		Attempts:   attempts,
	}
}
