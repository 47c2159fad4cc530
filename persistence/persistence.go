package persistence

import (
	"context"
	"fmt"

	"github.com/mohitkumar/agentorchy/model"
)

type StorageLayerError struct {
	Message string
	Err     error
}

func (e StorageLayerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage layer error %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("storage layer error %s", e.Message)
}

func (e StorageLayerError) Unwrap() error {
	return e.Err
}

// WorkflowStore keeps full workflow snapshots. LoadWorkflow returns
// model.ErrWorkflowNotFound for unknown ids.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	LoadWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error)
	DeleteWorkflow(ctx context.Context, workflowId string) error
	ListWorkflows(ctx context.Context, filter ListFilter) ([]*model.Workflow, error)
}

type ListFilter struct {
	Status model.WorkflowStatus
	UserId string
	Limit  int
}

func (f ListFilter) Matches(wf *model.Workflow) bool {
	if f.Status != "" && wf.Status != f.Status {
		return false
	}
	if f.UserId != "" && wf.Metadata.UserId != f.UserId {
		return false
	}
	return true
}
