package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/util"
	"go.uber.org/zap"
)

//go:embed agents.yaml
var defaultAgents []byte

type agentFile struct {
	Agents []model.Agent `yaml:"agents"`
}

type Registry struct {
	mu      sync.RWMutex
	source  func() ([]byte, error)
	decoder util.EncoderDecoder[agentFile]
	agents  map[string]model.Agent
	loaded  bool
}

// NewRegistry reads definitions from agentsFile, or the bundled set when empty.
func NewRegistry(agentsFile string) *Registry {
	source := func() ([]byte, error) { return defaultAgents, nil }
	if agentsFile != "" {
		source = func() ([]byte, error) { return os.ReadFile(agentsFile) }
	}
	return newRegistry(source)
}

func NewRegistryFromBytes(data []byte) *Registry {
	return newRegistry(func() ([]byte, error) { return data, nil })
}

func newRegistry(source func() ([]byte, error)) *Registry {
	return &Registry{
		source:  source,
		decoder: util.NewYamlEncoderDecoder[agentFile](),
		agents:  make(map[string]model.Agent),
	}
}

// LoadAll replaces the loaded agents. On error the registry is left empty.
func (r *Registry) LoadAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]model.Agent)
	r.loaded = false

	data, err := r.source()
	if err != nil {
		return fmt.Errorf("reading agent definitions: %w", err)
	}
	file, err := r.decoder.Decode(data)
	if err != nil {
		return &model.ValidationError{Message: "malformed agent definitions", Errors: []string{err.Error()}}
	}
	agents := make(map[string]model.Agent, len(file.Agents))
	for i, a := range file.Agents {
		if a.Id == "" {
			return &model.ValidationError{Message: fmt.Sprintf("agent definition %d has no id", i)}
		}
		if a.Role == "" {
			return &model.ValidationError{Message: fmt.Sprintf("agent %s has no role", a.Id)}
		}
		if _, ok := agents[a.Id]; ok {
			return &model.ValidationError{Message: fmt.Sprintf("duplicate agent id %s", a.Id)}
		}
		if a.Name == "" {
			a.Name = a.Id
		}
		if a.Produces == "" {
			a.Produces = a.Id + "-output"
		}
		if a.ArtifactType == "" {
			a.ArtifactType = "document"
		}
		agents[a.Id] = a
	}
	r.agents = agents
	r.loaded = true
	logger.Info("agents loaded", zap.Int("count", len(agents)))
	return nil
}

func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *Registry) Get(agentId string) (model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentId]
	if !ok {
		return model.Agent{}, fmt.Errorf("%w: %s", model.ErrAgentNotFound, agentId)
	}
	return a, nil
}

func (r *Registry) List() []model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// ValidateSequence never fails: unknown agents are errors, unmet requirements
// and unknown commands are warnings.
func (r *Registry) ValidateSequence(steps []model.Step) model.ValidationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := model.ValidationResult{Errors: []string{}, Warnings: []string{}}
	if len(steps) == 0 {
		res.Errors = append(res.Errors, "sequence has no steps")
	}
	produced := make(map[string]struct{})
	for i, step := range steps {
		agent, ok := r.agents[step.Agent]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("step %d (%s): unknown agent %q", i, step.Name, step.Agent))
		} else if step.Action != "" && len(agent.Commands) > 0 && !agent.HasCommand(step.Action) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("step %d (%s): agent %s has no command %q", i, step.Name, step.Agent, step.Action))
		}
		for _, req := range step.Requires {
			if _, ok := produced[req]; !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("step %d (%s): requires %q which no earlier step creates", i, step.Name, req))
			}
		}
		for _, c := range step.Creates {
			produced[c] = struct{}{}
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}
