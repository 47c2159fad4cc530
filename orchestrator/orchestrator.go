package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/agentorchy/broadcast"
	"github.com/mohitkumar/agentorchy/channel"
	"github.com/mohitkumar/agentorchy/engine"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/metadata"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/util"
	"go.uber.org/zap"
)

// MSG_SNAPSHOT carries the current workflow state to a new subscriber.
const MSG_SNAPSHOT model.MessageType = "snapshot"

type Config struct {
	Retention       time.Duration
	JanitorInterval time.Duration
	DefinitionsDir  string
	AutoSubscribe   bool
	RecoverOnStart  bool
}

type AgentCatalog interface {
	LoadAll() error
	List() []model.Agent
	Get(agentId string) (model.Agent, error)
	ValidateSequence(steps []model.Step) model.ValidationResult
}

// Orchestrator is the public face of the workflow core. Every operation
// fails with model.ErrNotInitialized until Initialize succeeds.
type Orchestrator struct {
	conf        Config
	agents      AgentCatalog
	sequences   *metadata.SequenceService
	channel     *channel.Channel
	engine      *engine.Engine
	publisher   broadcast.Publisher
	sinks       []EventSink
	initMu      sync.Mutex
	initialized atomic.Bool
	subsMu      sync.Mutex
	subs        map[string]func()
	janitor     *util.TickWorker
	wg          sync.WaitGroup
}

func NewOrchestrator(conf Config, agents AgentCatalog, sequences *metadata.SequenceService, ch *channel.Channel,
	eng *engine.Engine, publisher broadcast.Publisher, sinks ...EventSink) *Orchestrator {
	if publisher == nil {
		publisher = broadcast.NoopPublisher{}
	}
	if conf.JanitorInterval <= 0 {
		conf.JanitorInterval = time.Minute
	}
	return &Orchestrator{
		conf:      conf,
		agents:    agents,
		sequences: sequences,
		channel:   ch,
		engine:    eng,
		publisher: publisher,
		sinks:     sinks,
		subs:      make(map[string]func()),
	}
}

// Initialize loads agents and templates, then starts the step workers and the
// janitor. A failed call leaves the orchestrator uninitialized and may be
// retried.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if o.initialized.Load() {
		return nil
	}
	if err := o.agents.LoadAll(); err != nil {
		logger.Error("error loading agents", zap.Error(err))
		return err
	}
	if err := o.sequences.SeedTemplates(ctx, o.conf.DefinitionsDir); err != nil {
		logger.Error("error seeding workflow templates", zap.Error(err))
		return err
	}
	o.engine.Start()
	if o.conf.RecoverOnStart {
		if _, err := o.engine.RecoverRunning(ctx); err != nil {
			logger.Warn("could not recover running workflows", zap.Error(err))
		}
	}
	o.janitor = util.NewTickWorker("workflow-janitor", o.conf.JanitorInterval, func() { o.Sweep(time.Now().UTC()) }, &o.wg)
	o.janitor.Start()
	o.initialized.Store(true)
	logger.Info("orchestrator initialized", zap.Int("agents", len(o.agents.List())))
	return nil
}

func (o *Orchestrator) Initialized() bool {
	return o.initialized.Load()
}

func (o *Orchestrator) Shutdown() {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if !o.initialized.Load() {
		return
	}
	o.janitor.Stop()
	o.engine.Stop()
	o.subsMu.Lock()
	for id, unsubscribe := range o.subs {
		unsubscribe()
		delete(o.subs, id)
	}
	o.subsMu.Unlock()
	o.wg.Wait()
	o.initialized.Store(false)
	logger.Info("orchestrator stopped")
}

func (o *Orchestrator) ready() error {
	if !o.initialized.Load() {
		return model.ErrNotInitialized
	}
	return nil
}

// StartWorkflow starts a workflow. With AutoSubscribe the forwarding handlers
// are installed before the first message is published.
func (o *Orchestrator) StartWorkflow(ctx context.Context, prompt string, conf model.StartConfig) (model.StartResult, error) {
	if err := o.ready(); err != nil {
		return model.StartResult{}, err
	}
	if !o.conf.AutoSubscribe {
		return o.engine.StartWorkflow(ctx, prompt, conf)
	}
	if conf.WorkflowId == "" {
		conf.WorkflowId = uuid.NewString()
	}
	subscribed := o.subscribe(conf.WorkflowId)
	res, err := o.engine.StartWorkflow(ctx, prompt, conf)
	if err != nil && subscribed {
		o.UnsubscribeFromWorkflow(conf.WorkflowId)
	}
	return res, err
}

func (o *Orchestrator) ExecuteNextStep(ctx context.Context, workflowId string) error {
	if err := o.ready(); err != nil {
		return err
	}
	return o.engine.ExecuteNextStep(ctx, workflowId)
}

func (o *Orchestrator) PauseWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.PauseWorkflow(ctx, workflowId)
}

func (o *Orchestrator) ResumeWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.ResumeWorkflow(ctx, workflowId)
}

func (o *Orchestrator) CancelWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.CancelWorkflow(ctx, workflowId)
}

func (o *Orchestrator) ResumeWorkflowWithElicitation(ctx context.Context, workflowId string, resp model.ElicitationResponse) (*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.ResumeWorkflowWithElicitation(ctx, workflowId, resp)
}

func (o *Orchestrator) CreateCheckpoint(ctx context.Context, workflowId string, name string) (*model.Checkpoint, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.CreateCheckpoint(ctx, workflowId, name)
}

func (o *Orchestrator) RollbackToCheckpoint(ctx context.Context, workflowId string, checkpointId string) (*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.RollbackToCheckpoint(ctx, workflowId, checkpointId)
}

func (o *Orchestrator) ResumeFromRollback(ctx context.Context, workflowId string) (*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.ResumeFromRollback(ctx, workflowId)
}

func (o *Orchestrator) GetWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.GetWorkflow(ctx, workflowId)
}

func (o *Orchestrator) GetActiveWorkflows() ([]*model.Workflow, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.engine.ListActive(), nil
}

// GetExecutionHistory returns the newest limit messages, all when limit <= 0.
func (o *Orchestrator) GetExecutionHistory(workflowId string, limit int) ([]model.Message, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.channel.GetHistory(workflowId, limit), nil
}

func (o *Orchestrator) GetTimeline(workflowId string) ([]channel.TimelineEntry, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.channel.GetTimeline(workflowId), nil
}

func (o *Orchestrator) GetWorkflowArtifacts(ctx context.Context, workflowId string) ([]model.Artifact, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	wf, err := o.engine.GetWorkflow(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	return wf.Artifacts, nil
}

func (o *Orchestrator) ListAgents() ([]model.Agent, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.agents.List(), nil
}

func (o *Orchestrator) GetAgent(agentId string) (model.Agent, error) {
	if err := o.ready(); err != nil {
		return model.Agent{}, err
	}
	return o.agents.Get(agentId)
}

func (o *Orchestrator) ValidateSequence(steps []model.Step) (model.ValidationResult, error) {
	if err := o.ready(); err != nil {
		return model.ValidationResult{}, err
	}
	return o.agents.ValidateSequence(steps), nil
}

// GetWorkflowStatus combines the workflow snapshot with channel activity.
// Unknown ids produce a NOT_FOUND report rather than an error.
func (o *Orchestrator) GetWorkflowStatus(ctx context.Context, workflowId string) (*StatusReport, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	wf, err := o.engine.GetWorkflow(ctx, workflowId)
	if errors.Is(err, model.ErrWorkflowNotFound) {
		return &StatusReport{WorkflowId: workflowId, Status: model.NOT_FOUND}, nil
	}
	if err != nil {
		return nil, err
	}
	return buildReport(wf, o.channel.GetStatistics(workflowId), o.agents), nil
}

// SubscribeToWorkflow forwards the workflow's channel events to the broadcast
// publisher and the event sinks. Subscribing twice is a no-op.
func (o *Orchestrator) SubscribeToWorkflow(ctx context.Context, workflowId string) error {
	if err := o.ready(); err != nil {
		return err
	}
	wf, err := o.engine.GetWorkflow(ctx, workflowId)
	if err != nil {
		return err
	}
	if !o.subscribe(workflowId) {
		return nil
	}

	snapshot := model.Message{
		WorkflowId: workflowId,
		From:       model.ORCHESTRATOR,
		Type:       MSG_SNAPSHOT,
		Content:    fmt.Sprintf("workflow is %s", wf.Status),
		Data: map[string]any{
			"status":      string(wf.Status),
			"currentStep": wf.CurrentStep,
			"totalSteps":  wf.TotalSteps,
		},
		Timestamp: time.Now().UTC(),
	}
	o.forward(channel.EVENT_WORKFLOW_STATUS)(snapshot)
	logger.Debug("subscribed to workflow", zap.String("workflowId", workflowId))
	return nil
}

func (o *Orchestrator) subscribe(workflowId string) bool {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	if _, ok := o.subs[workflowId]; ok {
		return false
	}
	handlers := make(channel.Handlers)
	for _, event := range forwardedEvents {
		handlers[event] = o.forward(event)
	}
	o.subs[workflowId] = o.channel.Subscribe(workflowId, handlers)
	return true
}

func (o *Orchestrator) UnsubscribeFromWorkflow(workflowId string) bool {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	unsubscribe, ok := o.subs[workflowId]
	if !ok {
		return false
	}
	unsubscribe()
	delete(o.subs, workflowId)
	return true
}

func (o *Orchestrator) Subscribed(workflowId string) bool {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	_, ok := o.subs[workflowId]
	return ok
}

var forwardedEvents = []string{
	channel.EVENT_AGENT_ACTIVATED,
	channel.EVENT_AGENT_COMPLETED,
	channel.EVENT_AGENT_COMMUNICATION,
	channel.EVENT_WORKFLOW_ERROR,
	channel.EVENT_WORKFLOW_ELICITATION,
	channel.EVENT_WORKFLOW_STATUS,
}

func ChannelName(workflowId string) string {
	return "workflow-" + workflowId
}

func (o *Orchestrator) forward(event string) channel.Handler {
	return func(msg model.Message) {
		o.publisher.Publish(ChannelName(msg.WorkflowId), event, msg)
		action := ToStoreAction(event, msg)
		for _, sink := range o.sinks {
			if err := sink.Apply(action); err != nil {
				logger.Warn("event sink rejected action", zap.String("workflowId", msg.WorkflowId), zap.String("action", action.Type), zap.Error(err))
			}
		}
	}
}

// Sweep drops workflows that have been terminal for longer than the
// retention period from memory. Persisted snapshots stay.
func (o *Orchestrator) Sweep(now time.Time) int {
	if o.conf.Retention <= 0 {
		return 0
	}
	swept := 0
	for _, wf := range o.engine.Resident() {
		if !wf.Status.IsTerminal() || wf.Metadata.CompletedAt == nil {
			continue
		}
		if now.Sub(*wf.Metadata.CompletedAt) < o.conf.Retention {
			continue
		}
		o.UnsubscribeFromWorkflow(wf.Id)
		o.channel.CloseChannel(wf.Id)
		for _, sink := range o.sinks {
			if f, ok := sink.(interface{ Forget(workflowId string) }); ok {
				f.Forget(wf.Id)
			}
		}
		if o.engine.Evict(wf.Id) {
			swept++
		}
	}
	if swept > 0 {
		logger.Info("evicted finished workflows", zap.Int("count", swept))
	}
	return swept
}
