package engine

import (
	"time"

	"github.com/mohitkumar/agentorchy/model"
)

var validTransitions = map[model.WorkflowStatus][]model.WorkflowStatus{
	model.INITIALIZING:           {model.RUNNING, model.ERROR, model.CANCELLED},
	model.RUNNING:                {model.PAUSED, model.PAUSED_FOR_ELICITATION, model.COMPLETED, model.ERROR, model.CANCELLED},
	model.PAUSED:                 {model.RUNNING, model.CANCELLED},
	model.PAUSED_FOR_ELICITATION: {model.RUNNING, model.PAUSED, model.CANCELLED},
}

// CanTransition reports whether from -> to is an edge of the workflow state
// graph. Terminal states have no outgoing edges.
func CanTransition(from model.WorkflowStatus, to model.WorkflowStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves wf to the target status. PAUSED_FOR_ELICITATION -> PAUSED
// is reserved for rollback and rejected for any other op.
func transition(wf *model.Workflow, to model.WorkflowStatus, op string, now time.Time) error {
	from := wf.Status
	if !CanTransition(from, to) || (from == model.PAUSED_FOR_ELICITATION && to == model.PAUSED && op != OP_ROLLBACK) {
		return &model.TransitionError{Op: op, From: from, To: to}
	}
	wf.Status = to
	wf.Metadata.UpdatedAt = now
	if to == model.RUNNING && wf.Metadata.StartedAt == nil {
		started := now
		wf.Metadata.StartedAt = &started
	}
	if to.IsTerminal() {
		completed := now
		wf.Metadata.CompletedAt = &completed
	}
	return nil
}

const OP_START = "start"
const OP_STEP = "step"
const OP_PAUSE = "pause"
const OP_RESUME = "resume"
const OP_CANCEL = "cancel"
const OP_ELICITATION = "elicitation"
const OP_ROLLBACK = "rollback"
const OP_CHECKPOINT = "checkpoint"
