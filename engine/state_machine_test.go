package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohitkumar/agentorchy/model"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allStatuses = []model.WorkflowStatus{
	model.INITIALIZING,
	model.RUNNING,
	model.PAUSED,
	model.PAUSED_FOR_ELICITATION,
	model.COMPLETED,
	model.ERROR,
	model.CANCELLED,
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(model.INITIALIZING, model.RUNNING))
	require.True(t, CanTransition(model.RUNNING, model.PAUSED_FOR_ELICITATION))
	require.True(t, CanTransition(model.PAUSED, model.RUNNING))
	require.True(t, CanTransition(model.PAUSED_FOR_ELICITATION, model.CANCELLED))
	require.False(t, CanTransition(model.PAUSED, model.COMPLETED))
	require.False(t, CanTransition(model.INITIALIZING, model.PAUSED))

	for _, terminal := range []model.WorkflowStatus{model.COMPLETED, model.ERROR, model.CANCELLED} {
		for _, to := range allStatuses {
			require.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestTransitionRollbackOnlyEdge(t *testing.T) {
	now := time.Now()
	wf := &model.Workflow{Status: model.PAUSED_FOR_ELICITATION}
	err := transition(wf, model.PAUSED, OP_PAUSE, now)
	var terr *model.TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, model.PAUSED_FOR_ELICITATION, wf.Status)

	require.NoError(t, transition(wf, model.PAUSED, OP_ROLLBACK, now))
	require.Equal(t, model.PAUSED, wf.Status)

	require.NoError(t, transition(wf, model.CANCELLED, OP_CANCEL, now))
	require.NotNil(t, wf.Metadata.CompletedAt)
	err = transition(wf, model.RUNNING, OP_RESUME, now)
	require.ErrorIs(t, err, model.ErrWorkflowTerminal)
}

func expectedOpError(err error) bool {
	var terr *model.TransitionError
	var verr *model.ValidationError
	return err == nil ||
		errors.As(err, &terr) ||
		errors.As(err, &verr) ||
		errors.Is(err, model.ErrCheckpointNotFound) ||
		errors.Is(err, model.ErrWorkflowTerminal)
}

// TestWorkflowProperties drives random operation sequences and checks that
// status only moves along the state graph, steps advance one at a time and
// never move backwards except through rollback, and terminal workflows stay
// untouched.
func TestWorkflowProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t)
		ctx := context.Background()
		sequence := rapid.SampledFrom([]string{"FULL_STACK", "BACKEND_SERVICE", "ENHANCEMENT"}).Draw(rt, "sequence")
		res, err := h.engine.StartWorkflow(ctx, prompt, model.StartConfig{Sequence: sequence})
		if err != nil {
			rt.Fatalf("start: %v", err)
		}
		id := res.WorkflowId
		prev := h.get(t, id)

		ops := rapid.SliceOfN(rapid.IntRange(0, 7), 1, 60).Draw(rt, "ops")
		for i, op := range ops {
			rolledBackTo := -1
			err = nil
			switch op {
			case 0, 1:
				err = h.engine.ExecuteNextStep(ctx, id)
			case 2:
				_, err = h.engine.PauseWorkflow(ctx, id)
			case 3:
				_, err = h.engine.ResumeWorkflow(ctx, id)
			case 4:
				if rapid.IntRange(0, 9).Draw(rt, "cancel") == 0 {
					_, err = h.engine.CancelWorkflow(ctx, id)
				}
			case 5:
				_, err = h.engine.ResumeWorkflowWithElicitation(ctx, id, model.ElicitationResponse{Response: "a small feature"})
			case 6:
				_, err = h.engine.CreateCheckpoint(ctx, id, "")
			case 7:
				if len(prev.Checkpoints) == 0 {
					continue
				}
				cp := prev.Checkpoints[rapid.IntRange(0, len(prev.Checkpoints)-1).Draw(rt, "checkpoint")]
				_, err = h.engine.RollbackToCheckpoint(ctx, id, cp.Id)
				if err == nil {
					rolledBackTo = cp.Snapshot.CurrentStep
				}
			}
			if !expectedOpError(err) {
				rt.Fatalf("op %d (%d): unexpected error %v", i, op, err)
			}
			cur := h.get(t, id)

			if cur.Status != prev.Status && !CanTransition(prev.Status, cur.Status) {
				rt.Fatalf("op %d: illegal transition %s -> %s", i, prev.Status, cur.Status)
			}
			if cur.CurrentStep < 0 || cur.CurrentStep > cur.TotalSteps {
				rt.Fatalf("op %d: currentStep %d outside [0, %d]", i, cur.CurrentStep, cur.TotalSteps)
			}
			if len(cur.Artifacts) != cur.CurrentStep {
				rt.Fatalf("op %d: %d artifacts at step %d", i, len(cur.Artifacts), cur.CurrentStep)
			}
			if prev.Status.IsTerminal() && (cur.Status != prev.Status || cur.CurrentStep != prev.CurrentStep) {
				rt.Fatalf("op %d: terminal workflow changed", i)
			}
			if rolledBackTo >= 0 {
				if cur.CurrentStep != rolledBackTo || cur.Status != model.PAUSED {
					rt.Fatalf("op %d: rollback landed on step %d status %s", i, cur.CurrentStep, cur.Status)
				}
			} else if cur.CurrentStep < prev.CurrentStep || cur.CurrentStep > prev.CurrentStep+1 {
				rt.Fatalf("op %d: step moved from %d to %d", i, prev.CurrentStep, cur.CurrentStep)
			}
			if cur.Status == model.COMPLETED && cur.CurrentStep != cur.TotalSteps {
				rt.Fatalf("op %d: completed at step %d of %d", i, cur.CurrentStep, cur.TotalSteps)
			}
			prev = cur
		}
	})
}
