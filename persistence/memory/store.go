package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/util"
)

var _ persistence.WorkflowStore = new(inMemoryWorkflowStore)

type inMemoryWorkflowStore struct {
	mu             sync.RWMutex
	snapshots      map[string][]byte
	encoderDecoder util.EncoderDecoder[model.Workflow]
}

func NewInMemoryWorkflowStore() *inMemoryWorkflowStore {
	return &inMemoryWorkflowStore{
		snapshots:      make(map[string][]byte),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (s *inMemoryWorkflowStore) SaveWorkflow(_ context.Context, wf *model.Workflow) error {
	data, err := s.encoderDecoder.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: "encoding workflow " + wf.Id, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[wf.Id] = data
	return nil
}

func (s *inMemoryWorkflowStore) LoadWorkflow(_ context.Context, workflowId string) (*model.Workflow, error) {
	s.mu.RLock()
	data, ok := s.snapshots[workflowId]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrWorkflowNotFound, workflowId)
	}
	wf, err := s.encoderDecoder.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "decoding workflow " + workflowId, Err: err}
	}
	return wf, nil
}

func (s *inMemoryWorkflowStore) DeleteWorkflow(_ context.Context, workflowId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, workflowId)
	return nil
}

func (s *inMemoryWorkflowStore) ListWorkflows(_ context.Context, filter persistence.ListFilter) ([]*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Workflow, 0)
	for id, data := range s.snapshots {
		wf, err := s.encoderDecoder.Decode(data)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: "decoding workflow " + id, Err: err}
		}
		if filter.Matches(wf) {
			out = append(out, wf)
		}
	}
	return persistence.SortAndLimit(out, filter.Limit), nil
}
