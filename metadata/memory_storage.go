package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohitkumar/agentorchy/model"
)

var _ MetadataStorage = new(inMemoryMetadataStorage)

type inMemoryMetadataStorage struct {
	mu   sync.RWMutex
	defs map[string]model.WorkflowDefinition
}

func NewInMemoryMetadataStorage() *inMemoryMetadataStorage {
	return &inMemoryMetadataStorage{
		defs: make(map[string]model.WorkflowDefinition),
	}
}

func (s *inMemoryMetadataStorage) SaveWorkflowDefinition(_ context.Context, def model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Name] = def
	return nil
}

func (s *inMemoryMetadataStorage) DeleteWorkflowDefinition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, name)
	return nil
}

func (s *inMemoryMetadataStorage) GetWorkflowDefinition(_ context.Context, name string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: template %s", model.ErrSequenceNotFound, name)
	}
	return &def, nil
}

func (s *inMemoryMetadataStorage) ListWorkflowDefinitions(_ context.Context) ([]model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WorkflowDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
