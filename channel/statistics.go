package channel

import (
	"time"

	"github.com/mohitkumar/agentorchy/model"
)

type AgentActivity struct {
	Agent        string            `json:"agent"`
	LastEvent    model.MessageType `json:"lastEvent"`
	LastActiveAt time.Time         `json:"lastActiveAt"`
	Activations  int               `json:"activations"`
	Completions  int               `json:"completions"`
	Errors       int               `json:"errors"`
	Sent         int               `json:"sent"`
	Received     int               `json:"received"`
}

// Statistics are running totals; they count every published message even
// when the history has been trimmed.
type Statistics struct {
	WorkflowId     string                    `json:"workflowId"`
	TotalMessages  int                       `json:"totalMessages"`
	ByType         map[model.MessageType]int `json:"byType"`
	BySender       map[string]int            `json:"bySender"`
	FirstMessageAt *time.Time                `json:"firstMessageAt,omitempty"`
	LastMessageAt  *time.Time                `json:"lastMessageAt,omitempty"`
	Agents         map[string]AgentActivity  `json:"agents"`
}

func newStatistics(workflowId string) *Statistics {
	return &Statistics{
		WorkflowId: workflowId,
		ByType:     make(map[model.MessageType]int),
		BySender:   make(map[string]int),
		Agents:     make(map[string]AgentActivity),
	}
}

func (s *Statistics) record(msg model.Message) {
	s.TotalMessages++
	s.ByType[msg.Type]++
	s.BySender[msg.From]++
	ts := msg.Timestamp
	if s.FirstMessageAt == nil {
		s.FirstMessageAt = &ts
	}
	s.LastMessageAt = &ts

	agent := msg.From
	if agent == model.ORCHESTRATOR || agent == model.USER {
		agent = msg.To
	}
	if agent == "" || agent == model.ORCHESTRATOR || agent == model.USER {
		return
	}
	a := s.Agents[agent]
	a.Agent = agent
	a.LastEvent = msg.Type
	a.LastActiveAt = ts
	switch msg.Type {
	case model.MSG_ACTIVATION:
		a.Activations++
	case model.MSG_COMPLETION:
		a.Completions++
	case model.MSG_ERROR:
		a.Errors++
	case model.MSG_INTER_AGENT:
		a.Sent++
	}
	s.Agents[agent] = a
	if msg.Type == model.MSG_INTER_AGENT && msg.To != "" && msg.To != agent {
		r := s.Agents[msg.To]
		r.Agent = msg.To
		r.Received++
		s.Agents[msg.To] = r
	}
}

func (s *Statistics) copy() Statistics {
	out := *s
	out.ByType = make(map[model.MessageType]int, len(s.ByType))
	for k, v := range s.ByType {
		out.ByType[k] = v
	}
	out.BySender = make(map[string]int, len(s.BySender))
	for k, v := range s.BySender {
		out.BySender[k] = v
	}
	out.Agents = make(map[string]AgentActivity, len(s.Agents))
	for k, v := range s.Agents {
		out.Agents[k] = v
	}
	return out
}
