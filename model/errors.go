package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrWorkflowNotFound = errors.New("workflow not found")
var ErrAgentNotFound = errors.New("agent not found")
var ErrCheckpointNotFound = errors.New("checkpoint not found")
var ErrSequenceNotFound = errors.New("sequence not found")
var ErrStepInFlight = errors.New("step already in flight")
var ErrWorkflowTerminal = errors.New("workflow is terminal")
var ErrNotInitialized = errors.New("orchestrator not initialized")

type ValidationError struct {
	Message string
	Errors  []string
	Err     error
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Errors, "; "))
}

type TransitionError struct {
	Op   string
	From WorkflowStatus
	To   WorkflowStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition %s -> %s", e.Op, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrWorkflowTerminal && e.From.IsTerminal()
}
