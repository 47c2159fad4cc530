package orchestrator

import (
	"sync"

	"github.com/mohitkumar/agentorchy/channel"
	"github.com/mohitkumar/agentorchy/model"
)

const ACTION_SET_ACTIVE_AGENT = "SET_ACTIVE_AGENT"
const ACTION_AGENT_COMPLETED = "AGENT_COMPLETED"
const ACTION_ADD_AGENT_MESSAGE = "ADD_AGENT_MESSAGE"
const ACTION_SET_WORKFLOW_ERROR = "SET_WORKFLOW_ERROR"
const ACTION_SET_ELICITATION = "SET_ELICITATION"
const ACTION_CLEAR_ELICITATION = "CLEAR_ELICITATION"
const ACTION_UPDATE_WORKFLOW_STATUS = "UPDATE_WORKFLOW_STATUS"

// StoreAction is what a UI state store receives for one channel event.
type StoreAction struct {
	Type       string         `json:"type"`
	WorkflowId string         `json:"workflowId"`
	Payload    map[string]any `json:"payload"`
}

type EventSink interface {
	Apply(action StoreAction) error
}

func ToStoreAction(event string, msg model.Message) StoreAction {
	payload := make(map[string]any, len(msg.Data)+4)
	for k, v := range msg.Data {
		payload[k] = v
	}
	payload["from"] = msg.From
	payload["to"] = msg.To
	payload["content"] = msg.Content
	payload["messageType"] = string(msg.Type)

	action := StoreAction{WorkflowId: msg.WorkflowId, Payload: payload}
	switch event {
	case channel.EVENT_AGENT_ACTIVATED:
		action.Type = ACTION_SET_ACTIVE_AGENT
		payload["agent"] = msg.To
	case channel.EVENT_AGENT_COMPLETED:
		action.Type = ACTION_AGENT_COMPLETED
		payload["agent"] = msg.From
	case channel.EVENT_AGENT_COMMUNICATION:
		action.Type = ACTION_ADD_AGENT_MESSAGE
	case channel.EVENT_WORKFLOW_ERROR:
		action.Type = ACTION_SET_WORKFLOW_ERROR
		payload["agent"] = msg.From
	case channel.EVENT_WORKFLOW_ELICITATION:
		action.Type = ACTION_SET_ELICITATION
		if msg.Type == model.MSG_ELICITATION_RESPONSE {
			action.Type = ACTION_CLEAR_ELICITATION
		}
	default:
		action.Type = ACTION_UPDATE_WORKFLOW_STATUS
	}
	return action
}

// UIState is the per-workflow view a front end renders.
type UIState struct {
	WorkflowId  string   `json:"workflowId"`
	Status      string   `json:"status,omitempty"`
	ActiveAgent string   `json:"activeAgent,omitempty"`
	Completed   []string `json:"completedAgents"`
	Elicitation string   `json:"elicitation,omitempty"`
	LastError   string   `json:"lastError,omitempty"`
	Messages    int      `json:"messages"`
}

// MemoryStateStore is an EventSink that folds actions into UIState.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*UIState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*UIState)}
}

func (s *MemoryStateStore) Apply(action StoreAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[action.WorkflowId]
	if !ok {
		st = &UIState{WorkflowId: action.WorkflowId, Completed: []string{}}
		s.states[action.WorkflowId] = st
	}
	agent, _ := action.Payload["agent"].(string)
	content, _ := action.Payload["content"].(string)
	switch action.Type {
	case ACTION_SET_ACTIVE_AGENT:
		st.ActiveAgent = agent
	case ACTION_AGENT_COMPLETED:
		st.ActiveAgent = ""
		st.Completed = append(st.Completed, agent)
	case ACTION_ADD_AGENT_MESSAGE:
		st.Messages++
	case ACTION_SET_WORKFLOW_ERROR:
		st.LastError = content
	case ACTION_SET_ELICITATION:
		st.Elicitation = content
	case ACTION_CLEAR_ELICITATION:
		st.Elicitation = ""
	case ACTION_UPDATE_WORKFLOW_STATUS:
		if status, ok := action.Payload["status"].(string); ok {
			st.Status = status
		}
	}
	return nil
}

func (s *MemoryStateStore) State(workflowId string) (UIState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[workflowId]
	if !ok {
		return UIState{}, false
	}
	out := *st
	out.Completed = append([]string(nil), st.Completed...)
	return out, true
}

func (s *MemoryStateStore) Forget(workflowId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, workflowId)
}
