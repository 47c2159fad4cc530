package executor

import (
	"context"
	"fmt"

	"github.com/mohitkumar/agentorchy/model"
)

// Output is what a strategy produced for one step.
type Output struct {
	Content  string
	Outputs  map[string]any
	Attempts int
}

// Strategy produces the result of one step for one agent.
type Strategy interface {
	Name() string
	Produce(ctx context.Context, agent model.Agent, sc model.StepContext) (*Output, error)
}

// StepError is a failure the workflow records with its type.
type StepError struct {
	Type     string
	Message  string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
