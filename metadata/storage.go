package metadata

import (
	"context"

	"github.com/mohitkumar/agentorchy/model"
)

type MetadataStorage interface {
	SaveWorkflowDefinition(ctx context.Context, def model.WorkflowDefinition) error
	DeleteWorkflowDefinition(ctx context.Context, name string) error
	GetWorkflowDefinition(ctx context.Context, name string) (*model.WorkflowDefinition, error)
	ListWorkflowDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error)
}
