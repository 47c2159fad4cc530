// Package storetest holds the behaviour every WorkflowStore must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/stretchr/testify/require"
)

func SampleWorkflow(id string, status model.WorkflowStatus) *model.Workflow {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.Workflow{
		Id:           id,
		Status:       status,
		CurrentStep:  1,
		TotalSteps:   2,
		CurrentAgent: "pm",
		SequenceName: "TEST",
		Sequence: []model.Step{
			{Name: "brief", Agent: "analyst", Action: "create-project-brief", Creates: []string{"project-brief"}},
			{Name: "prd", Agent: "pm", Action: "create-prd", Creates: []string{"prd"}, Requires: []string{"project-brief"}},
		},
		UserPrompt: "Build a todo app with auth",
		Context: map[string]any{
			"project-brief": "a brief",
			"nested":        map[string]any{"count": float64(2)},
		},
		Artifacts: []model.Artifact{
			{Id: "a1", Name: "project-brief", Type: "document", Agent: "analyst", Step: "brief", Content: "a brief", CreatedAt: now},
		},
		Errors: []model.WorkflowError{
			{Timestamp: now, Step: "prd", StepIndex: 1, Agent: "pm", Error: "boom", Type: model.ERROR_TYPE_DYNAMIC_STEP},
		},
		Checkpoints: []model.Checkpoint{
			{Id: "cp1", WorkflowId: id, Name: "before-prd", SavedAt: now, Snapshot: model.CheckpointSnapshot{
				Context: map[string]any{}, CurrentStep: 1, ArtifactCount: 1,
			}},
		},
		Metadata: model.WorkflowMetadata{UserId: "u1", Priority: "high", Tags: []string{"demo"}, CreatedAt: now, UpdatedAt: now},
	}
}

// Run exercises a WorkflowStore. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) persistence.WorkflowStore) {
	for scenario, fn := range map[string]func(t *testing.T, store persistence.WorkflowStore){
		"save then load round trips":  testRoundTrip,
		"load unknown is not found":   testNotFound,
		"save overwrites":             testOverwrite,
		"delete removes":              testDelete,
		"list filters by status/user": testList,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func testRoundTrip(t *testing.T, store persistence.WorkflowStore) {
	ctx := context.Background()
	wf := SampleWorkflow("wf-1", model.PAUSED)
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	got, err := store.LoadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, wf.Status, got.Status)
	require.Equal(t, wf.CurrentStep, got.CurrentStep)
	require.Equal(t, wf.Context, got.Context)
	require.Equal(t, wf.Artifacts, got.Artifacts)
	require.Equal(t, wf.Errors, got.Errors)
	require.Equal(t, wf.Sequence, got.Sequence)
	require.Equal(t, wf.Checkpoints[0].Id, got.Checkpoints[0].Id)
}

func testNotFound(t *testing.T, store persistence.WorkflowStore) {
	_, err := store.LoadWorkflow(context.Background(), "missing")
	require.True(t, errors.Is(err, model.ErrWorkflowNotFound))
}

func testOverwrite(t *testing.T, store persistence.WorkflowStore) {
	ctx := context.Background()
	wf := SampleWorkflow("wf-2", model.RUNNING)
	require.NoError(t, store.SaveWorkflow(ctx, wf))
	wf.Status = model.COMPLETED
	wf.CurrentStep = 2
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	got, err := store.LoadWorkflow(ctx, "wf-2")
	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, got.Status)
	require.Equal(t, 2, got.CurrentStep)

	running, err := store.ListWorkflows(ctx, persistence.ListFilter{Status: model.RUNNING})
	require.NoError(t, err)
	require.Empty(t, running)
}

func testDelete(t *testing.T, store persistence.WorkflowStore) {
	ctx := context.Background()
	require.NoError(t, store.SaveWorkflow(ctx, SampleWorkflow("wf-3", model.RUNNING)))
	require.NoError(t, store.DeleteWorkflow(ctx, "wf-3"))
	_, err := store.LoadWorkflow(ctx, "wf-3")
	require.True(t, errors.Is(err, model.ErrWorkflowNotFound))
}

func testList(t *testing.T, store persistence.WorkflowStore) {
	ctx := context.Background()
	a := SampleWorkflow("wf-a", model.RUNNING)
	b := SampleWorkflow("wf-b", model.COMPLETED)
	c := SampleWorkflow("wf-c", model.RUNNING)
	c.Metadata.UserId = "u2"
	c.Metadata.UpdatedAt = a.Metadata.UpdatedAt.Add(time.Minute)
	for _, wf := range []*model.Workflow{a, b, c} {
		require.NoError(t, store.SaveWorkflow(ctx, wf))
	}

	all, err := store.ListWorkflows(ctx, persistence.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "wf-c", all[0].Id)

	running, err := store.ListWorkflows(ctx, persistence.ListFilter{Status: model.RUNNING})
	require.NoError(t, err)
	require.Len(t, running, 2)

	mine, err := store.ListWorkflows(ctx, persistence.ListFilter{Status: model.RUNNING, UserId: "u2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	limited, err := store.ListWorkflows(ctx, persistence.ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
