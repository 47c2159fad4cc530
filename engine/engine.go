package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mohitkumar/agentorchy/analytics"
	"github.com/mohitkumar/agentorchy/cache"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/util"
	"go.uber.org/zap"
)

const DEFAULT_SEQUENCE = "FULL_STACK"
const DEFAULT_RETRY_INTERVAL = 200 * time.Millisecond
const DEFAULT_MAX_RETRY_INTERVAL = 30 * time.Second

type Config struct {
	MinPromptLength  int
	DefaultSequence  string
	Partitions       int
	StepWorkers      int
	WorkerCapacity   int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
}

type AgentRegistry interface {
	Get(agentId string) (model.Agent, error)
	ValidateSequence(steps []model.Step) model.ValidationResult
}

type SequenceResolver interface {
	Resolve(ctx context.Context, sequenceName string, templateName string) (model.WorkflowSequence, error)
}

type StepExecutor interface {
	Execute(ctx context.Context, agent model.Agent, sc model.StepContext) model.StepResult
}

type MessagePublisher interface {
	Publish(workflowId string, msg model.Message) model.Message
}

// instance is the resident copy of one workflow. mu guards wf, stepping,
// queued, epoch and retry. snap always holds the last persisted state and is
// read without locking.
type instance struct {
	mu       sync.Mutex
	wf       *model.Workflow
	snap     atomic.Pointer[model.Workflow]
	stepping bool
	queued   bool
	epoch    uint64
	retry    *backoff.ExponentialBackOff
}

func newInstance(wf *model.Workflow) *instance {
	inst := &instance{wf: wf}
	inst.snap.Store(wf.Clone())
	return inst
}

// reset drops unsaved changes to wf.
func (inst *instance) reset() {
	inst.wf = inst.snap.Load().Clone()
	normalize(inst.wf)
}

type Engine struct {
	conf       Config
	agents     AgentRegistry
	sequences  SequenceResolver
	executor   StepExecutor
	messages   MessagePublisher
	store      persistence.WorkflowStore
	collector  analytics.WorkflowDataCollector
	active     *cache.Table[*instance]
	loadMu     sync.Mutex
	dispatcher *dispatcher
	inflight   sync.WaitGroup
	running    atomic.Bool
	runCtx     context.Context
	cancel     context.CancelFunc
	now        func() time.Time
}

func NewEngine(conf Config, agents AgentRegistry, sequences SequenceResolver, executor StepExecutor,
	messages MessagePublisher, store persistence.WorkflowStore, collector analytics.WorkflowDataCollector) (*Engine, error) {
	if conf.DefaultSequence == "" {
		conf.DefaultSequence = DEFAULT_SEQUENCE
	}
	if conf.Partitions <= 0 {
		conf.Partitions = 271
	}
	if conf.RetryInterval <= 0 {
		conf.RetryInterval = DEFAULT_RETRY_INTERVAL
	}
	if conf.MaxRetryInterval < conf.RetryInterval {
		conf.MaxRetryInterval = max(DEFAULT_MAX_RETRY_INTERVAL, conf.RetryInterval)
	}
	if collector == nil {
		collector = analytics.NoopDataCollector{}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		conf:      conf,
		agents:    agents,
		sequences: sequences,
		executor:  executor,
		messages:  messages,
		store:     store,
		collector: collector,
		active:    cache.NewTable[*instance](time.Minute),
		runCtx:    runCtx,
		cancel:    cancel,
		now:       func() time.Time { return time.Now().UTC() },
	}
	d, err := newDispatcher(conf, e.handleTask)
	if err != nil {
		cancel()
		return nil, err
	}
	e.dispatcher = d
	return e, nil
}

// Start runs the step workers. Until then steps only advance through
// explicit ExecuteNextStep calls.
func (e *Engine) Start() {
	if e.running.CompareAndSwap(false, true) {
		e.dispatcher.start()
		logger.Info("workflow engine started", zap.Int("stepWorkers", len(e.dispatcher.workers)))
	}
}

func (e *Engine) Stop() {
	if e.running.CompareAndSwap(true, false) {
		e.cancel()
		e.dispatcher.stop()
		e.inflight.Wait()
		logger.Info("workflow engine stopped")
	}
}

// handleTask starts the next step of a workflow on its worker and runs the
// executor call in its own goroutine, so a slow agent holds up only its own
// workflow. The result is applied under the workflow lock as usual.
func (e *Engine) handleTask(task util.Task) error {
	workflowId, ok := task.(string)
	if !ok {
		return fmt.Errorf("unexpected step task %v", task)
	}
	inst, err := e.load(e.runCtx, workflowId)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	inst.queued = false
	inst.mu.Unlock()

	p, err := e.beginStep(e.runCtx, inst)
	if errors.Is(err, model.ErrStepInFlight) {
		return nil
	}
	if err != nil {
		e.retryLater(inst)
		return err
	}
	if p == nil {
		return nil
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		next, err := e.runStep(e.runCtx, inst, p)
		if err != nil {
			logger.Error("error applying step result", zap.String("workflowId", workflowId), zap.String("step", p.sc.Step.Name), zap.Error(err))
			e.retryLater(inst)
			return
		}
		inst.mu.Lock()
		inst.retry = nil
		inst.mu.Unlock()
		if next {
			e.dispatch(workflowId)
		}
	}()
	return nil
}

// retryLater schedules another attempt at the current step of a RUNNING
// workflow whose last step could not be committed. The delay grows while the
// failures continue.
func (e *Engine) retryLater(inst *instance) {
	inst.mu.Lock()
	if inst.wf.Status != model.RUNNING || e.runCtx.Err() != nil {
		inst.mu.Unlock()
		return
	}
	if inst.retry == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.conf.RetryInterval
		b.MaxInterval = e.conf.MaxRetryInterval
		b.MaxElapsedTime = 0
		b.Reset()
		inst.retry = b
	}
	delay := inst.retry.NextBackOff()
	workflowId := inst.wf.Id
	inst.mu.Unlock()
	logger.Warn("retrying workflow step", zap.String("workflowId", workflowId), zap.Duration("delay", delay))
	time.AfterFunc(delay, func() { e.dispatch(workflowId) })
}

// dispatch queues the next step of a resident workflow. At most one task per
// workflow sits in the queue.
func (e *Engine) dispatch(workflowId string) {
	if !e.running.Load() {
		return
	}
	inst, ok := e.active.Get(workflowId)
	if !ok {
		return
	}
	inst.mu.Lock()
	if inst.queued {
		inst.mu.Unlock()
		return
	}
	inst.queued = true
	inst.mu.Unlock()
	if !e.dispatcher.submit(workflowId) {
		inst.mu.Lock()
		inst.queued = false
		inst.mu.Unlock()
		e.retryLater(inst)
	}
}

// load returns the resident instance, rehydrating it from the store if needed.
func (e *Engine) load(ctx context.Context, workflowId string) (*instance, error) {
	if inst, ok := e.active.Get(workflowId); ok {
		return inst, nil
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if inst, ok := e.active.Get(workflowId); ok {
		return inst, nil
	}
	wf, err := e.store.LoadWorkflow(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	if err := e.restoreSequence(ctx, wf); err != nil {
		return nil, err
	}
	normalize(wf)
	inst, added := e.active.PutIfAbsent(workflowId, newInstance(wf))
	if !added {
		return inst, nil
	}
	logger.Info("workflow rehydrated", zap.String("workflowId", workflowId), zap.String("status", string(wf.Status)), zap.Int("currentStep", wf.CurrentStep))
	return inst, nil
}

func (e *Engine) restoreSequence(ctx context.Context, wf *model.Workflow) error {
	if len(wf.Sequence) > 0 {
		return nil
	}
	seq, err := e.sequences.Resolve(ctx, wf.SequenceName, wf.TemplateName)
	if err != nil {
		return fmt.Errorf("restore sequence of workflow %s: %w", wf.Id, err)
	}
	wf.Sequence = seq.Steps
	wf.TotalSteps = len(seq.Steps)
	return nil
}

func normalize(wf *model.Workflow) {
	if wf.Context == nil {
		wf.Context = make(map[string]any)
	}
	if wf.ElicitationResponses == nil {
		wf.ElicitationResponses = make(map[string]model.ElicitationResponse)
	}
	if wf.Artifacts == nil {
		wf.Artifacts = []model.Artifact{}
	}
	if wf.Errors == nil {
		wf.Errors = []model.WorkflowError{}
	}
	if wf.Checkpoints == nil {
		wf.Checkpoints = []model.Checkpoint{}
	}
}

// commit persists inst.wf and then publishes msgs. A failed save restores the
// last persisted state and publishes nothing. Callers hold inst.mu.
func (e *Engine) commit(ctx context.Context, inst *instance, msgs ...model.Message) error {
	prev := inst.snap.Load()
	inst.wf.Metadata.UpdatedAt = e.now()
	if err := e.store.SaveWorkflow(ctx, inst.wf); err != nil {
		logger.Error("error saving workflow", zap.String("workflowId", inst.wf.Id), zap.Error(err))
		if prev != nil {
			inst.reset()
		}
		return err
	}
	snap := inst.wf.Clone()
	inst.snap.Store(snap)
	if prev != nil && prev.Status != snap.Status {
		if prev.Status == model.RUNNING {
			inst.epoch++
		}
		e.collector.RecordTransition(snap.Id, prev.Status, snap.Status)
		logger.Info("workflow status changed", zap.String("workflowId", snap.Id), zap.String("from", string(prev.Status)), zap.String("to", string(snap.Status)))
	}
	for _, msg := range msgs {
		e.messages.Publish(snap.Id, msg)
	}
	return nil
}

// mutate applies fn to a resident workflow and commits the result. When fn
// fails the workflow is left as it was.
func (e *Engine) mutate(ctx context.Context, workflowId string, fn func(wf *model.Workflow) ([]model.Message, error)) (*model.Workflow, error) {
	inst, err := e.load(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	msgs, err := fn(inst.wf)
	if err != nil {
		inst.reset()
		return nil, err
	}
	if err := e.commit(ctx, inst, msgs...); err != nil {
		return nil, err
	}
	return inst.snap.Load().Clone(), nil
}

func (e *Engine) StartWorkflow(ctx context.Context, prompt string, conf model.StartConfig) (model.StartResult, error) {
	prompt = strings.TrimSpace(prompt)
	original := prompt
	if len([]rune(prompt)) < e.conf.MinPromptLength {
		fallback := strings.TrimSpace(conf.FallbackPrompt)
		if fallback == "" {
			return model.StartResult{}, &model.ValidationError{
				Message: "prompt rejected",
				Errors:  []string{fmt.Sprintf("prompt must be at least %d characters", e.conf.MinPromptLength)},
			}
		}
		prompt = fallback
	}

	sequenceName := conf.Sequence
	if sequenceName == "" && conf.Template == "" {
		sequenceName = e.conf.DefaultSequence
	}
	if conf.Template != "" {
		sequenceName = ""
	}
	seq, err := e.sequences.Resolve(ctx, sequenceName, conf.Template)
	if err != nil {
		if errors.Is(err, model.ErrSequenceNotFound) {
			return model.StartResult{}, &model.ValidationError{Message: "unknown sequence", Errors: []string{err.Error()}, Err: err}
		}
		return model.StartResult{}, err
	}
	validation := e.agents.ValidateSequence(seq.Steps)
	if !validation.Valid {
		return model.StartResult{}, &model.ValidationError{Message: "invalid sequence", Errors: validation.Errors}
	}

	id := strings.TrimSpace(conf.WorkflowId)
	chosen := id != ""
	if !chosen {
		id = uuid.NewString()
	}

	now := e.now()
	wfContext := make(map[string]any, len(conf.Context)+2)
	for k, v := range conf.Context {
		wfContext[k] = v
	}
	wfContext["userPrompt"] = prompt
	if original != prompt && original != "" {
		wfContext["originalPrompt"] = original
	}
	wf := &model.Workflow{
		Id:           id,
		Status:       model.INITIALIZING,
		TotalSteps:   len(seq.Steps),
		SequenceName: sequenceName,
		TemplateName: conf.Template,
		Sequence:     seq.Steps,
		UserPrompt:   prompt,
		Context:      wfContext,
		Warnings:     validation.Warnings,
		Metadata: model.WorkflowMetadata{
			UserId:    conf.UserId,
			Priority:  conf.Priority,
			Tags:      conf.Tags,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	normalize(wf)
	wf.CurrentAgent = seq.Steps[0].Agent

	// The id is claimed in the active table before anything is saved, so
	// concurrent starts with one id cannot both succeed.
	inst := newInstance(wf)
	inst.mu.Lock()
	if _, claimed := e.active.PutIfAbsent(id, inst); !claimed {
		inst.mu.Unlock()
		return model.StartResult{}, workflowExists(id)
	}
	release := func(err error) (model.StartResult, error) {
		e.active.Delete(id)
		inst.mu.Unlock()
		return model.StartResult{}, err
	}
	if chosen {
		// Terminal workflows may have left the active table but their record
		// stays authoritative.
		_, err := e.store.LoadWorkflow(ctx, id)
		if err == nil {
			return release(workflowExists(id))
		}
		if !errors.Is(err, model.ErrWorkflowNotFound) {
			return release(err)
		}
	}
	if err := transition(inst.wf, model.RUNNING, OP_START, now); err != nil {
		return release(err)
	}
	err = e.commit(ctx, inst, model.Message{
		From:    model.ORCHESTRATOR,
		Type:    model.MSG_WORKFLOW_STARTED,
		Content: fmt.Sprintf("workflow started with %d steps", wf.TotalSteps),
		Data: map[string]any{
			"sequence": seq.Name,
			"steps":    wf.TotalSteps,
			"warnings": len(wf.Warnings),
		},
	})
	if err != nil {
		return release(err)
	}
	inst.mu.Unlock()
	logger.Info("workflow started", zap.String("workflowId", wf.Id), zap.String("sequence", seq.Name), zap.Int("steps", wf.TotalSteps))
	e.dispatch(wf.Id)
	return model.StartResult{WorkflowId: wf.Id, Status: model.RUNNING}, nil
}

func (e *Engine) PauseWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	return e.mutate(ctx, workflowId, func(wf *model.Workflow) ([]model.Message, error) {
		if wf.Status != model.RUNNING {
			return nil, &model.TransitionError{Op: OP_PAUSE, From: wf.Status, To: model.PAUSED}
		}
		if err := transition(wf, model.PAUSED, OP_PAUSE, e.now()); err != nil {
			return nil, err
		}
		return []model.Message{statusMessage(model.MSG_WORKFLOW_PAUSED, "workflow paused", wf)}, nil
	})
}

func (e *Engine) ResumeWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	wf, err := e.mutate(ctx, workflowId, func(wf *model.Workflow) ([]model.Message, error) {
		return e.resume(wf, OP_RESUME)
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(workflowId)
	return wf, nil
}

func (e *Engine) resume(wf *model.Workflow, op string) ([]model.Message, error) {
	if wf.Status != model.PAUSED {
		return nil, &model.TransitionError{Op: op, From: wf.Status, To: model.RUNNING}
	}
	if err := transition(wf, model.RUNNING, op, e.now()); err != nil {
		return nil, err
	}
	from := wf.RollbackCheckpoint
	wf.RollbackCheckpoint = ""
	msg := statusMessage(model.MSG_WORKFLOW_RESUMED, "workflow resumed", wf)
	if from != "" {
		msg.Data["checkpointId"] = from
	}
	return []model.Message{msg}, nil
}

// CancelWorkflow stops a workflow for good. A step still executing finishes
// but its result is dropped.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	return e.mutate(ctx, workflowId, func(wf *model.Workflow) ([]model.Message, error) {
		if err := transition(wf, model.CANCELLED, OP_CANCEL, e.now()); err != nil {
			return nil, err
		}
		wf.PendingElicitation = nil
		wf.CurrentAgent = ""
		return []model.Message{statusMessage(model.MSG_WORKFLOW_CANCELLED, "workflow cancelled", wf)}, nil
	})
}

// GetWorkflow returns a snapshot. Workflows that are not resident are read
// from the store without being rehydrated.
func (e *Engine) GetWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	if inst, ok := e.active.Get(workflowId); ok {
		return inst.snap.Load().Clone(), nil
	}
	return e.store.LoadWorkflow(ctx, workflowId)
}

// ListActive returns snapshots of the resident workflows that are not terminal.
func (e *Engine) ListActive() []*model.Workflow {
	out := make([]*model.Workflow, 0)
	for _, inst := range e.active.Items() {
		snap := inst.snap.Load()
		if snap.Status.IsTerminal() {
			continue
		}
		out = append(out, snap.Clone())
	}
	return persistence.SortAndLimit(out, 0)
}

// Resident returns snapshots of every workflow in the active table.
func (e *Engine) Resident() []*model.Workflow {
	items := e.active.Items()
	out := make([]*model.Workflow, 0, len(items))
	for _, inst := range items {
		out = append(out, inst.snap.Load().Clone())
	}
	return out
}

// Evict drops a terminal workflow from the active table. The persisted
// snapshot stays.
func (e *Engine) Evict(workflowId string) bool {
	inst, ok := e.active.Get(workflowId)
	if !ok {
		return false
	}
	if !inst.snap.Load().Status.IsTerminal() {
		return false
	}
	e.active.Delete(workflowId)
	logger.Debug("workflow evicted", zap.String("workflowId", workflowId))
	return true
}

// RecoverRunning rehydrates persisted RUNNING workflows and schedules their
// next step.
func (e *Engine) RecoverRunning(ctx context.Context) (int, error) {
	wfs, err := e.store.ListWorkflows(ctx, persistence.ListFilter{Status: model.RUNNING})
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, wf := range wfs {
		if _, err := e.load(ctx, wf.Id); err != nil {
			logger.Warn("could not recover workflow", zap.String("workflowId", wf.Id), zap.Error(err))
			continue
		}
		e.dispatch(wf.Id)
		recovered++
	}
	if recovered > 0 {
		logger.Info("recovered running workflows", zap.Int("count", recovered))
	}
	return recovered, nil
}

func workflowExists(id string) error {
	return &model.ValidationError{Message: "workflow already exists", Errors: []string{id}}
}

func statusMessage(t model.MessageType, content string, wf *model.Workflow) model.Message {
	return model.Message{
		From:    model.ORCHESTRATOR,
		Type:    t,
		Content: content,
		Data: map[string]any{
			"status":      string(wf.Status),
			"currentStep": wf.CurrentStep,
			"totalSteps":  wf.TotalSteps,
		},
	}
}
