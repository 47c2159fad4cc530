package metadata

import (
	"fmt"
	"strings"

	"github.com/mohitkumar/agentorchy/model"
	"gopkg.in/yaml.v3"
)

// stringList accepts either a scalar or a sequence.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			*l = []string{node.Value}
		}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected string or list", node.Line)
}

type templateStep struct {
	Step        string         `yaml:"step"`
	Agent       string         `yaml:"agent"`
	Action      string         `yaml:"action"`
	Creates     stringList     `yaml:"creates"`
	Requires    stringList     `yaml:"requires"`
	Interactive bool           `yaml:"interactive"`
	Elicit      string         `yaml:"elicit"`
	Checkpoint  bool           `yaml:"checkpoint"`
	Inputs      map[string]any `yaml:"inputs"`
	Notes       string         `yaml:"notes"`
}

type templateFile struct {
	Workflow struct {
		Id          string         `yaml:"id"`
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Sequence    []templateStep `yaml:"sequence"`
	} `yaml:"workflow"`
}

// ParseDefinition turns template YAML into a sequence. Steps without an agent
// (notes, guidance blocks) are skipped.
func ParseDefinition(name string, source string) (model.WorkflowSequence, error) {
	var file templateFile
	if err := yaml.Unmarshal([]byte(source), &file); err != nil {
		return model.WorkflowSequence{}, &model.ValidationError{Message: fmt.Sprintf("template %s is not valid yaml", name), Errors: []string{err.Error()}}
	}
	seq := model.WorkflowSequence{
		Name:        name,
		Description: file.Workflow.Description,
		Steps:       make([]model.Step, 0, len(file.Workflow.Sequence)),
	}
	for i, ts := range file.Workflow.Sequence {
		if ts.Agent == "" {
			continue
		}
		stepName := ts.Step
		if stepName == "" {
			stepName = fmt.Sprintf("%s-%d", ts.Agent, i)
			if len(ts.Creates) > 0 {
				stepName = strings.TrimSuffix(ts.Creates[0], ".md")
			}
		}
		seq.Steps = append(seq.Steps, model.Step{
			Name:              stepName,
			Agent:             ts.Agent,
			Action:            ts.Action,
			Creates:           ts.Creates,
			Requires:          ts.Requires,
			Interactive:       ts.Interactive,
			ElicitationPrompt: ts.Elicit,
			Checkpoint:        ts.Checkpoint,
			Inputs:            ts.Inputs,
			Notes:             ts.Notes,
		})
	}
	if len(seq.Steps) == 0 {
		return model.WorkflowSequence{}, &model.ValidationError{Message: fmt.Sprintf("template %s has no agent steps", name)}
	}
	return seq, nil
}
