package engine

import (
	"context"
	"fmt"

	"github.com/mohitkumar/agentorchy/model"
)

// ELICITATION_KEY holds operator answers in the workflow context, keyed by
// step name.
const ELICITATION_KEY = "elicitation"

// ResumeWorkflowWithElicitation records the operator's answer for the step
// waiting on it and runs that same step again.
func (e *Engine) ResumeWorkflowWithElicitation(ctx context.Context, workflowId string, resp model.ElicitationResponse) (*model.Workflow, error) {
	wf, err := e.mutate(ctx, workflowId, func(wf *model.Workflow) ([]model.Message, error) {
		if wf.Status != model.PAUSED_FOR_ELICITATION {
			return nil, &model.TransitionError{Op: OP_ELICITATION, From: wf.Status, To: model.RUNNING}
		}
		step, ok := wf.CurrentStepDef()
		if !ok {
			return nil, fmt.Errorf("workflow %s has no current step", wf.Id)
		}
		if resp.AgentId == "" {
			resp.AgentId = step.Agent
		}
		if resp.RespondedAt.IsZero() {
			resp.RespondedAt = e.now()
		}
		wf.ElicitationResponses[step.Name] = resp

		answers, ok := wf.Context[ELICITATION_KEY].(map[string]any)
		if !ok {
			answers = make(map[string]any)
		}
		answers[step.Name] = resp.Response
		wf.Context[ELICITATION_KEY] = answers
		for k, v := range resp.Data {
			wf.Context[k] = v
		}
		wf.PendingElicitation = nil
		if err := transition(wf, model.RUNNING, OP_ELICITATION, e.now()); err != nil {
			return nil, err
		}
		return []model.Message{{
			From:    model.USER,
			To:      resp.AgentId,
			Type:    model.MSG_ELICITATION_RESPONSE,
			Content: resp.Response,
			Data: map[string]any{
				"stepIndex": wf.CurrentStep,
				"step":      step.Name,
				"userId":    resp.UserId,
			},
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(workflowId)
	return wf, nil
}
