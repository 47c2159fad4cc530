package memory

import (
	"testing"

	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/persistence/storetest"
)

func TestInMemoryWorkflowStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.WorkflowStore {
		return NewInMemoryWorkflowStore()
	})
}
