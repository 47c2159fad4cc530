package orchestrator

import (
	"time"

	"github.com/mohitkumar/agentorchy/channel"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/util"
)

const AGENT_IDLE = "idle"
const AGENT_ACTIVE = "active"
const AGENT_WAITING = "waiting"
const AGENT_COMPLETED = "completed"
const AGENT_FAILED = "error"

type AgentStatus struct {
	AgentId      string     `json:"agentId"`
	Name         string     `json:"name,omitempty"`
	Status       string     `json:"status"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	Activations  int        `json:"activations"`
	Completions  int        `json:"completions"`
	Errors       int        `json:"errors"`
}

type StatusReport struct {
	WorkflowId string               `json:"workflowId"`
	Status     model.WorkflowStatus `json:"status"`
	Progress   float64              `json:"progress"`
	Workflow   *model.Workflow      `json:"workflow,omitempty"`
	Statistics *channel.Statistics  `json:"statistics,omitempty"`
	Agents     []AgentStatus        `json:"agents,omitempty"`
}

func buildReport(wf *model.Workflow, stats channel.Statistics, agents AgentCatalog) *StatusReport {
	report := &StatusReport{
		WorkflowId: wf.Id,
		Status:     wf.Status,
		Workflow:   wf,
		Statistics: &stats,
		Agents:     make([]AgentStatus, 0),
	}
	if wf.TotalSteps > 0 {
		report.Progress = float64(wf.CurrentStep) / float64(wf.TotalSteps)
	}
	ids := make([]string, 0, len(wf.Sequence))
	for _, step := range wf.Sequence {
		ids = append(ids, step.Agent)
	}
	for _, agentId := range util.Dedupe(ids) {
		st := AgentStatus{AgentId: agentId, Status: AGENT_IDLE}
		if a, err := agents.Get(agentId); err == nil {
			st.Name = a.Name
		}
		if activity, ok := stats.Agents[agentId]; ok {
			ts := activity.LastActiveAt
			st.LastActiveAt = &ts
			st.Activations = activity.Activations
			st.Completions = activity.Completions
			st.Errors = activity.Errors
			switch {
			case activity.LastEvent == model.MSG_ERROR:
				st.Status = AGENT_FAILED
			case activity.Completions > 0:
				st.Status = AGENT_COMPLETED
			}
		}
		if agentId == wf.CurrentAgent {
			switch wf.Status {
			case model.RUNNING:
				st.Status = AGENT_ACTIVE
			case model.PAUSED_FOR_ELICITATION:
				st.Status = AGENT_WAITING
			}
		}
		report.Agents = append(report.Agents, st)
	}
	return report
}
