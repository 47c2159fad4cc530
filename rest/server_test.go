package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mohitkumar/agentorchy/analytics"
	"github.com/mohitkumar/agentorchy/broadcast"
	"github.com/mohitkumar/agentorchy/channel"
	"github.com/mohitkumar/agentorchy/engine"
	"github.com/mohitkumar/agentorchy/executor"
	"github.com/mohitkumar/agentorchy/metadata"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/orchestrator"
	"github.com/mohitkumar/agentorchy/persistence/memory"
	"github.com/mohitkumar/agentorchy/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const prompt = "Build an inventory service for a bakery"

type testServer struct {
	*httptest.Server
	orch *orchestrator.Orchestrator
	hub  *broadcast.Hub
}

func newTestServer(t *testing.T, initialize bool) *testServer {
	t.Helper()
	agents := registry.NewRegistry("")
	sequences, err := metadata.NewSequenceService(metadata.NewInMemoryMetadataStorage())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	ch := channel.NewChannel(100)
	exec := executor.NewExecutor(executor.NewMockStrategy(executor.MockConfig{Seed: 11}), nil)
	eng, err := engine.NewEngine(engine.Config{MinPromptLength: 10, StepWorkers: 2, Partitions: 17, WorkerCapacity: 8},
		agents, sequences, exec, ch, memory.NewInMemoryWorkflowStore(), analytics.NewPrometheusDataCollector(reg))
	require.NoError(t, err)

	hub := broadcast.NewHub(64, time.Second)
	state := orchestrator.NewMemoryStateStore()
	orch := orchestrator.NewOrchestrator(orchestrator.Config{AutoSubscribe: true}, agents, sequences, ch, eng, hub, state)
	if initialize {
		require.NoError(t, orch.Initialize(context.Background()))
	}
	t.Cleanup(orch.Shutdown)
	t.Cleanup(hub.Close)

	s, err := NewServer(0, orch, sequences, hub, state, reg)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, orch: orch, hub: hub}
}

func (s *testServer) do(t *testing.T, method string, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) start(t *testing.T, sequence string) string {
	t.Helper()
	var res model.StartResult
	code := s.do(t, http.MethodPost, "/workflows", map[string]any{"prompt": prompt, "sequence": sequence}, &res)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, res.WorkflowId)
	return res.WorkflowId
}

func (s *testServer) waitFor(t *testing.T, id string, status model.WorkflowStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		wf, err := s.orch.GetWorkflow(context.Background(), id)
		return err == nil && wf.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"not initialized":          testNotInitialized,
		"start and complete":       testStartAndComplete,
		"start validation":         testStartValidation,
		"lookup errors":            testLookupErrors,
		"elicitation and rollback": testElicitationAndRollback,
		"agents and sequences":     testAgentsAndSequences,
		"definitions":              testDefinitions,
		"metrics":                  testMetrics,
		"websocket stream":         testStream,
	} {
		t.Run(scenario, fn)
	}
}

func testNotInitialized(t *testing.T) {
	s := newTestServer(t, false)
	require.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/health", nil, nil))
	require.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/workflows", map[string]any{"prompt": prompt}, nil))
	require.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/agents", nil, nil))
}

func testStartAndComplete(t *testing.T) {
	s := newTestServer(t, true)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, nil))
	id := s.start(t, "BACKEND_SERVICE")
	s.waitFor(t, id, model.COMPLETED)

	var wf model.Workflow
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/"+id, nil, &wf))
	require.Equal(t, model.COMPLETED, wf.Status)
	require.Equal(t, 5, wf.CurrentStep)

	var report orchestrator.StatusReport
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/"+id+"/status", nil, &report))
	require.Equal(t, 1.0, report.Progress)
	require.Len(t, report.Agents, 5)

	var artifacts []model.Artifact
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/"+id+"/artifacts", nil, &artifacts))
	require.Len(t, artifacts, 5)

	require.Eventually(t, func() bool {
		history, err := s.orch.GetExecutionHistory(id, 1)
		return err == nil && len(history) == 1 && history[0].Type == model.MSG_WORKFLOW_COMPLETED
	}, 2*time.Second, 10*time.Millisecond)
	var history []model.Message
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/"+id+"/history?limit=2", nil, &history))
	require.Len(t, history, 2)
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/workflows/"+id+"/history?limit=x", nil, nil))

	var timeline []channel.TimelineEntry
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/"+id+"/timeline", nil, &timeline))
	require.NotEmpty(t, timeline)

	var ui orchestrator.UIState
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/"+id+"/ui-state", nil, &ui))
	require.Len(t, ui.Completed, 5)

	require.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/workflows/"+id+"/pause", nil, nil))
	require.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/workflows/"+id+"/checkpoints", nil, nil))

	var active []model.Workflow
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows", nil, &active))
	require.Empty(t, active)
}

func testStartValidation(t *testing.T) {
	s := newTestServer(t, true)
	var body map[string]any
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/workflows", map[string]any{"prompt": "short"}, &body))
	require.Equal(t, "prompt rejected", body["error"])

	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/workflows", map[string]any{"prompt": prompt, "sequence": "NOPE"}, nil))

	req, err := http.NewRequest(http.MethodPost, s.URL+"/workflows", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var res model.StartResult
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/workflows",
		map[string]any{"prompt": "hi", "fallbackPrompt": prompt, "sequence": "BACKEND_SERVICE"}, &res))
	s.waitFor(t, res.WorkflowId, model.COMPLETED)
}

func testLookupErrors(t *testing.T) {
	s := newTestServer(t, true)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/workflows/missing", nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/workflows/missing/cancel", nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/workflows/missing/ui-state", nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/workflows/missing/subscription", nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/agents/nobody", nil, nil))

	var report orchestrator.StatusReport
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/missing/status", nil, &report))
	require.Equal(t, model.NOT_FOUND, report.Status)
}

func testElicitationAndRollback(t *testing.T) {
	s := newTestServer(t, true)
	id := s.start(t, "ENHANCEMENT")
	s.waitFor(t, id, model.PAUSED_FOR_ELICITATION)

	require.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/workflows/"+id+"/pause", nil, nil))

	var cp model.Checkpoint
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/workflows/"+id+"/checkpoints", CheckpointRequest{Name: "scoping"}, &cp))
	require.Equal(t, "scoping", cp.Name)

	var wf model.Workflow
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/workflows/"+id+"/rollback", RollbackRequest{}, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/workflows/"+id+"/rollback", RollbackRequest{CheckpointId: "nope"}, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/workflows/"+id+"/rollback", RollbackRequest{CheckpointId: cp.Id}, &wf))
	require.Equal(t, model.PAUSED, wf.Status)
	require.Equal(t, cp.Id, wf.RollbackCheckpoint)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/workflows/"+id+"/rollback/resume", nil, &wf))
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/workflows/"+id+"/rollback/resume", nil, nil))
	s.waitFor(t, id, model.PAUSED_FOR_ELICITATION)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/workflows/"+id+"/elicitation",
		model.ElicitationResponse{Response: "small feature", UserId: "u-1"}, &wf))
	require.Equal(t, "small feature", wf.ElicitationResponses["classify-scope"].Response)
	s.waitFor(t, id, model.COMPLETED)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows/"+id, nil, &wf))
	require.Len(t, wf.Artifacts, 4)
}

func testAgentsAndSequences(t *testing.T) {
	s := newTestServer(t, true)
	var agents []model.Agent
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/agents", nil, &agents))
	require.NotEmpty(t, agents)

	var agent model.Agent
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/agents/analyst", nil, &agent))
	require.Equal(t, "analyst", agent.Id)

	var seqs []model.WorkflowSequence
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sequences", nil, &seqs))
	require.Len(t, seqs, 3)

	var res model.ValidationResult
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/sequences/validate",
		ValidateSequenceRequest{Steps: []model.Step{{Name: "x", Agent: "ghost", Action: "haunt"}}}, &res))
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
}

func testDefinitions(t *testing.T) {
	s := newTestServer(t, true)
	source := `
workflow:
  id: tiny
  description: one step
  sequence:
    - agent: dev
      action: implement-story
      creates: implementation
`
	var seq model.WorkflowSequence
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/definitions", DefinitionRequest{Name: "tiny", Source: source}, &seq))
	require.Len(t, seq.Steps, 1)
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/definitions", DefinitionRequest{Name: "broken", Source: "workflow: ["}, nil))
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/definitions", DefinitionRequest{Source: source}, nil))

	var def model.WorkflowDefinition
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/definitions/tiny", nil, &def))
	require.Equal(t, "one step", def.Description)

	var defs []model.WorkflowDefinition
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/definitions", nil, &defs))
	require.Len(t, defs, 3)

	var res model.StartResult
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/workflows", map[string]any{"prompt": prompt, "template": "tiny"}, &res))
	s.waitFor(t, res.WorkflowId, model.COMPLETED)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/definitions/tiny", nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/definitions/tiny", nil, nil))
}

func testMetrics(t *testing.T) {
	s := newTestServer(t, true)
	id := s.start(t, "BACKEND_SERVICE")
	s.waitFor(t, id, model.COMPLETED)

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `agentorchy_steps_total{agent="qa"`)
	require.Contains(t, string(body), "agentorchy_workflow_transitions_total")
}

func testStream(t *testing.T) {
	s := newTestServer(t, true)
	id := s.start(t, "ENHANCEMENT")
	s.waitFor(t, id, model.PAUSED_FOR_ELICITATION)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/workflows/" + id
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		return s.hub.ClientCount(orchestrator.ChannelName(id)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/workflows/"+id+"/elicitation", model.ElicitationResponse{Response: "single story"}, nil))

	events := make(map[string]int)
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev broadcast.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		require.Equal(t, orchestrator.ChannelName(id), ev.Channel)
		events[ev.Event]++
		msg, _ := ev.Payload.(map[string]any)
		if msg["type"] == string(model.MSG_WORKFLOW_COMPLETED) {
			break
		}
	}
	require.Equal(t, 4, events[channel.EVENT_AGENT_COMPLETED])
	require.Equal(t, 4, events[channel.EVENT_AGENT_ACTIVATED])
	require.Equal(t, 1, events[channel.EVENT_WORKFLOW_ELICITATION])
	require.Equal(t, 404, s.do(t, http.MethodGet, "/ws/workflows/missing", nil, nil))
}
