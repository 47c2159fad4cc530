package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"go.uber.org/zap"
)

func autoCheckpointName(step model.Step) string {
	return "before-" + step.Name
}

func hasStepCheckpoint(wf *model.Workflow, stepIndex int, name string) bool {
	for _, cp := range wf.Checkpoints {
		if cp.Name == name && cp.Snapshot.CurrentStep == stepIndex {
			return true
		}
	}
	return false
}

func newCheckpoint(wf *model.Workflow, name string, now time.Time) model.Checkpoint {
	seq := make([]model.Step, len(wf.Sequence))
	copy(seq, wf.Sequence)
	return model.Checkpoint{
		Id:         uuid.NewString(),
		WorkflowId: wf.Id,
		Name:       name,
		SavedAt:    now,
		Snapshot: model.CheckpointSnapshot{
			Context:       cloneContext(wf.Context),
			CurrentStep:   wf.CurrentStep,
			Sequence:      seq,
			ArtifactCount: len(wf.Artifacts),
			ErrorCount:    len(wf.Errors),
		},
	}
}

func cloneContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	if len(m) == 0 {
		return out
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

func checkpointMessage(cp model.Checkpoint) model.Message {
	return model.Message{
		From:    model.ORCHESTRATOR,
		Type:    model.MSG_CHECKPOINT,
		Content: fmt.Sprintf("checkpoint %s saved", cp.Name),
		Data: map[string]any{
			"checkpointId": cp.Id,
			"name":         cp.Name,
			"currentStep":  cp.Snapshot.CurrentStep,
		},
	}
}

// CreateCheckpoint snapshots a non-terminal workflow on demand.
func (e *Engine) CreateCheckpoint(ctx context.Context, workflowId string, name string) (*model.Checkpoint, error) {
	var created model.Checkpoint
	_, err := e.mutate(ctx, workflowId, func(wf *model.Workflow) ([]model.Message, error) {
		if wf.Status.IsTerminal() {
			return nil, fmt.Errorf("checkpoint workflow %s: %w", wf.Id, model.ErrWorkflowTerminal)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("checkpoint-%d", len(wf.Checkpoints)+1)
		}
		created = newCheckpoint(wf, name, e.now())
		wf.Checkpoints = append(wf.Checkpoints, created)
		return []model.Message{checkpointMessage(created)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// RollbackToCheckpoint restores a paused workflow to a checkpoint taken
// earlier. Artifacts, errors and checkpoints recorded after it are dropped and
// the workflow is left PAUSED.
func (e *Engine) RollbackToCheckpoint(ctx context.Context, workflowId string, checkpointId string) (*model.Workflow, error) {
	return e.mutate(ctx, workflowId, func(wf *model.Workflow) ([]model.Message, error) {
		if wf.Status != model.PAUSED && wf.Status != model.PAUSED_FOR_ELICITATION {
			return nil, &model.TransitionError{Op: OP_ROLLBACK, From: wf.Status, To: model.PAUSED}
		}
		idx, ok := wf.FindCheckpoint(checkpointId)
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrCheckpointNotFound, checkpointId)
		}
		cp := wf.Checkpoints[idx]
		snap := cp.Snapshot

		wf.Context = cloneContext(snap.Context)
		wf.Sequence = make([]model.Step, len(snap.Sequence))
		copy(wf.Sequence, snap.Sequence)
		wf.TotalSteps = len(wf.Sequence)
		wf.CurrentStep = snap.CurrentStep
		if len(wf.Artifacts) > snap.ArtifactCount {
			wf.Artifacts = wf.Artifacts[:snap.ArtifactCount]
		}
		if len(wf.Errors) > snap.ErrorCount {
			wf.Errors = wf.Errors[:snap.ErrorCount]
		}
		wf.Checkpoints = wf.Checkpoints[:idx+1]
		wf.PendingElicitation = nil
		for i := wf.CurrentStep; i < len(wf.Sequence); i++ {
			delete(wf.ElicitationResponses, wf.Sequence[i].Name)
		}
		wf.CurrentAgent = ""
		if s, ok := wf.CurrentStepDef(); ok {
			wf.CurrentAgent = s.Agent
		}
		if wf.Status == model.PAUSED_FOR_ELICITATION {
			if err := transition(wf, model.PAUSED, OP_ROLLBACK, e.now()); err != nil {
				return nil, err
			}
		}
		wf.RollbackCheckpoint = cp.Id
		logger.Info("workflow rolled back", zap.String("workflowId", wf.Id), zap.String("checkpoint", cp.Name), zap.Int("currentStep", wf.CurrentStep))
		return []model.Message{{
			From:    model.ORCHESTRATOR,
			Type:    model.MSG_WORKFLOW_ROLLBACK,
			Content: fmt.Sprintf("rolled back to %s", cp.Name),
			Data: map[string]any{
				"checkpointId": cp.Id,
				"name":         cp.Name,
				"currentStep":  wf.CurrentStep,
			},
		}}, nil
	})
}

// ResumeFromRollback resumes a workflow left PAUSED by RollbackToCheckpoint.
func (e *Engine) ResumeFromRollback(ctx context.Context, workflowId string) (*model.Workflow, error) {
	wf, err := e.mutate(ctx, workflowId, func(wf *model.Workflow) ([]model.Message, error) {
		if wf.RollbackCheckpoint == "" {
			return nil, &model.ValidationError{Message: fmt.Sprintf("workflow %s has no pending rollback", wf.Id)}
		}
		return e.resume(wf, OP_RESUME)
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(workflowId)
	return wf, nil
}
