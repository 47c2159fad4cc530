package model

type Agent struct {
	Id           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Title        string   `json:"title,omitempty" yaml:"title"`
	Role         string   `json:"role" yaml:"role"`
	Persona      string   `json:"persona,omitempty" yaml:"persona"`
	Commands     []string `json:"commands,omitempty" yaml:"commands"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`
	Produces     string   `json:"produces,omitempty" yaml:"produces"`
	ArtifactType string   `json:"artifactType,omitempty" yaml:"artifact_type"`
	Script       string   `json:"-" yaml:"script"`
}

func (a Agent) HasCommand(cmd string) bool {
	for _, c := range a.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

type Step struct {
	Name              string         `json:"name" yaml:"name"`
	Agent             string         `json:"agent" yaml:"agent"`
	Action            string         `json:"action" yaml:"action"`
	Creates           []string       `json:"creates,omitempty" yaml:"creates"`
	Requires          []string       `json:"requires,omitempty" yaml:"requires"`
	Interactive       bool           `json:"interactive,omitempty" yaml:"interactive"`
	ElicitationPrompt string         `json:"elicitationPrompt,omitempty" yaml:"elicitation_prompt"`
	Checkpoint        bool           `json:"checkpoint,omitempty" yaml:"checkpoint"`
	Inputs            map[string]any `json:"inputs,omitempty" yaml:"inputs"`
	Notes             string         `json:"notes,omitempty" yaml:"notes"`
}

type WorkflowSequence struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
