package metadata

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/util"
	"go.uber.org/zap"
)

//go:embed sequences.yaml
var bundledSequences []byte

//go:embed templates/*.yaml
var bundledTemplates embed.FS

type sequenceFile struct {
	Sequences []model.WorkflowSequence `yaml:"sequences"`
}

// SequenceService resolves static named sequences and dynamic templates.
type SequenceService struct {
	storage   MetadataStorage
	sequences map[string]model.WorkflowSequence
}

func NewSequenceService(storage MetadataStorage) (*SequenceService, error) {
	file, err := util.NewYamlEncoderDecoder[sequenceFile]().Decode(bundledSequences)
	if err != nil {
		return nil, fmt.Errorf("decoding bundled sequences: %w", err)
	}
	seqs := make(map[string]model.WorkflowSequence, len(file.Sequences))
	for _, s := range file.Sequences {
		seqs[s.Name] = s
	}
	return &SequenceService{
		storage:   storage,
		sequences: seqs,
	}, nil
}

func (s *SequenceService) GetMetadataStorage() MetadataStorage {
	return s.storage
}

// SeedTemplates stores the bundled templates plus every *.yaml under dir.
// Templates already present in storage are left untouched.
func (s *SequenceService) SeedTemplates(ctx context.Context, dir string) error {
	sources := make(map[string]string)
	entries, err := bundledTemplates.ReadDir("templates")
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := bundledTemplates.ReadFile("templates/" + e.Name())
		if err != nil {
			return err
		}
		sources[strings.TrimSuffix(e.Name(), ".yaml")] = string(data)
	}
	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			sources[strings.TrimSuffix(filepath.Base(f), ".yaml")] = string(data)
		}
	}
	for name, src := range sources {
		_, err := s.storage.GetWorkflowDefinition(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, model.ErrSequenceNotFound) {
			return err
		}
		if _, err := s.SaveDefinition(ctx, name, src); err != nil {
			return err
		}
		logger.Info("workflow template seeded", zap.String("template", name))
	}
	return nil
}

// Resolve returns a copy of the named static sequence, or parses the template.
// Exactly one of sequenceName and templateName is expected.
func (s *SequenceService) Resolve(ctx context.Context, sequenceName string, templateName string) (model.WorkflowSequence, error) {
	if templateName != "" {
		def, err := s.storage.GetWorkflowDefinition(ctx, templateName)
		if err != nil {
			return model.WorkflowSequence{}, err
		}
		return ParseDefinition(def.Name, def.Source)
	}
	seq, ok := s.sequences[sequenceName]
	if !ok {
		return model.WorkflowSequence{}, fmt.Errorf("%w: %s", model.ErrSequenceNotFound, sequenceName)
	}
	steps := make([]model.Step, len(seq.Steps))
	copy(steps, seq.Steps)
	seq.Steps = steps
	return seq, nil
}

func (s *SequenceService) ListSequences() []model.WorkflowSequence {
	out := make([]model.WorkflowSequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SaveDefinition parses source before storing it so broken templates never reach storage.
func (s *SequenceService) SaveDefinition(ctx context.Context, name string, source string) (model.WorkflowSequence, error) {
	if name == "" {
		return model.WorkflowSequence{}, &model.ValidationError{Message: "template name is required"}
	}
	seq, err := ParseDefinition(name, source)
	if err != nil {
		return model.WorkflowSequence{}, err
	}
	def := model.WorkflowDefinition{
		Name:        name,
		Description: seq.Description,
		Source:      source,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.storage.SaveWorkflowDefinition(ctx, def); err != nil {
		return model.WorkflowSequence{}, err
	}
	return seq, nil
}

func (s *SequenceService) GetDefinition(ctx context.Context, name string) (*model.WorkflowDefinition, error) {
	return s.storage.GetWorkflowDefinition(ctx, name)
}

func (s *SequenceService) ListDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error) {
	return s.storage.ListWorkflowDefinitions(ctx)
}

func (s *SequenceService) DeleteDefinition(ctx context.Context, name string) error {
	return s.storage.DeleteWorkflowDefinition(ctx, name)
}
