package model

import (
	"encoding/json"
	"time"
)

type WorkflowStatus string

const INITIALIZING WorkflowStatus = "INITIALIZING"
const RUNNING WorkflowStatus = "RUNNING"
const PAUSED WorkflowStatus = "PAUSED"
const PAUSED_FOR_ELICITATION WorkflowStatus = "PAUSED_FOR_ELICITATION"
const COMPLETED WorkflowStatus = "COMPLETED"
const ERROR WorkflowStatus = "ERROR"
const CANCELLED WorkflowStatus = "CANCELLED"

// NOT_FOUND is only reported by status queries, never stored.
const NOT_FOUND WorkflowStatus = "NOT_FOUND"

func (s WorkflowStatus) IsTerminal() bool {
	return s == COMPLETED || s == ERROR || s == CANCELLED
}

const ERROR_TYPE_DYNAMIC_STEP = "dynamic_step_error"
const ERROR_TYPE_MOCK_STEP = "mock_step_error"
const ERROR_TYPE_SCRIPT_STEP = "script_step_error"
const ERROR_TYPE_AGENT_NOT_FOUND = "agent_not_found"
const ERROR_TYPE_EXECUTION = "execution_error"

type Artifact struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Agent     string    `json:"agent"`
	Step      string    `json:"step"`
	StepIndex int       `json:"stepIndex"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type WorkflowError struct {
	Timestamp time.Time `json:"timestamp"`
	Step      string    `json:"step"`
	StepIndex int       `json:"stepIndex"`
	Agent     string    `json:"agent,omitempty"`
	Error     string    `json:"error"`
	Type      string    `json:"type"`
}

type CheckpointSnapshot struct {
	Context       map[string]any `json:"context"`
	CurrentStep   int            `json:"currentStep"`
	Sequence      []Step         `json:"sequence"`
	ArtifactCount int            `json:"artifactCount"`
	ErrorCount    int            `json:"errorCount"`
}

type Checkpoint struct {
	Id         string             `json:"id"`
	WorkflowId string             `json:"workflowId"`
	Name       string             `json:"name"`
	SavedAt    time.Time          `json:"savedAt"`
	Snapshot   CheckpointSnapshot `json:"snapshot"`
}

type ElicitationRequest struct {
	StepIndex   int       `json:"stepIndex"`
	StepName    string    `json:"stepName"`
	AgentId     string    `json:"agentId"`
	Prompt      string    `json:"prompt"`
	RequestedAt time.Time `json:"requestedAt"`
}

type ElicitationResponse struct {
	Response    string         `json:"response"`
	Data        map[string]any `json:"data,omitempty"`
	AgentId     string         `json:"agentId,omitempty"`
	UserId      string         `json:"userId,omitempty"`
	RespondedAt time.Time      `json:"respondedAt"`
}

type WorkflowMetadata struct {
	UserId      string     `json:"userId,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type Workflow struct {
	Id                   string                         `json:"id"`
	Status               WorkflowStatus                 `json:"status"`
	CurrentStep          int                            `json:"currentStep"`
	TotalSteps           int                            `json:"totalSteps"`
	CurrentAgent         string                         `json:"currentAgent,omitempty"`
	SequenceName         string                         `json:"sequenceName,omitempty"`
	TemplateName         string                         `json:"templateName,omitempty"`
	Sequence             []Step                         `json:"sequence"`
	UserPrompt           string                         `json:"userPrompt"`
	Context              map[string]any                 `json:"context"`
	Artifacts            []Artifact                     `json:"artifacts"`
	Errors               []WorkflowError                `json:"errors"`
	Checkpoints          []Checkpoint                   `json:"checkpoints"`
	Warnings             []string                       `json:"warnings,omitempty"`
	PendingElicitation   *ElicitationRequest            `json:"pendingElicitation,omitempty"`
	ElicitationResponses map[string]ElicitationResponse `json:"elicitationResponses,omitempty"`
	RollbackCheckpoint   string                         `json:"rollbackCheckpoint,omitempty"`
	Metadata             WorkflowMetadata               `json:"metadata"`
}

// Clone returns a deep copy that shares no maps or slices with wf.
func (wf *Workflow) Clone() *Workflow {
	data, err := json.Marshal(wf)
	if err != nil {
		panic(err)
	}
	var out Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (wf *Workflow) CurrentStepDef() (Step, bool) {
	if wf.CurrentStep < 0 || wf.CurrentStep >= len(wf.Sequence) {
		return Step{}, false
	}
	return wf.Sequence[wf.CurrentStep], true
}

func (wf *Workflow) FindCheckpoint(id string) (int, bool) {
	for i, cp := range wf.Checkpoints {
		if cp.Id == id || cp.Name == id {
			return i, true
		}
	}
	return -1, false
}

type StartConfig struct {
	WorkflowId     string         `json:"workflowId,omitempty"`
	Sequence       string         `json:"sequence,omitempty"`
	Template       string         `json:"template,omitempty"`
	UserId         string         `json:"userId,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	FallbackPrompt string         `json:"fallbackPrompt,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

type StartResult struct {
	WorkflowId string         `json:"workflowId"`
	Status     WorkflowStatus `json:"status"`
}
