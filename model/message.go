package model

import "time"

type MessageType string

const MSG_ACTIVATION MessageType = "activation"
const MSG_COMPLETION MessageType = "completion"
const MSG_ERROR MessageType = "error"
const MSG_INTER_AGENT MessageType = "inter_agent"
const MSG_ELICITATION_REQUEST MessageType = "elicitation_request"
const MSG_ELICITATION_RESPONSE MessageType = "elicitation_response"
const MSG_WORKFLOW_STARTED MessageType = "workflow_started"
const MSG_WORKFLOW_COMPLETED MessageType = "workflow_completed"
const MSG_WORKFLOW_PAUSED MessageType = "workflow_paused"
const MSG_WORKFLOW_RESUMED MessageType = "workflow_resumed"
const MSG_WORKFLOW_CANCELLED MessageType = "workflow_cancelled"
const MSG_WORKFLOW_ROLLBACK MessageType = "workflow_rollback"
const MSG_CHECKPOINT MessageType = "checkpoint"

// ORCHESTRATOR is the sender of workflow level messages.
const ORCHESTRATOR = "orchestrator"
const USER = "user"

type Message struct {
	Id         string         `json:"id"`
	WorkflowId string         `json:"workflowId"`
	From       string         `json:"from"`
	To         string         `json:"to,omitempty"`
	Type       MessageType    `json:"type"`
	Content    string         `json:"content"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type StepContext struct {
	WorkflowId  string               `json:"workflowId"`
	StepIndex   int                  `json:"stepIndex"`
	Step        Step                 `json:"step"`
	UserPrompt  string               `json:"userPrompt"`
	Context     map[string]any       `json:"context"`
	Inputs      map[string]any       `json:"inputs,omitempty"`
	Artifacts   []Artifact           `json:"artifacts,omitempty"`
	Elicitation *ElicitationResponse `json:"elicitation,omitempty"`
}

type StepResult struct {
	Success     bool                `json:"success"`
	Artifacts   []Artifact          `json:"artifacts,omitempty"`
	Content     string              `json:"content,omitempty"`
	Outputs     map[string]any      `json:"outputs,omitempty"`
	Error       string              `json:"error,omitempty"`
	ErrorType   string              `json:"errorType,omitempty"`
	Elicitation *ElicitationRequest `json:"elicitation,omitempty"`
	Attempts    int                 `json:"attempts,omitempty"`
}

func (r *StepResult) NeedsElicitation() bool {
	return r != nil && r.Elicitation != nil
}
