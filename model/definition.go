package model

import "time"

// WorkflowDefinition is a dynamic workflow template. Source is the YAML text,
// parsed into a sequence whenever a workflow starts or is rehydrated.
type WorkflowDefinition struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
