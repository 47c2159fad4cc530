package channel

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const EVENT_MESSAGE = "message"
const EVENT_AGENT_ACTIVATED = "agent:activated"
const EVENT_AGENT_COMPLETED = "agent:completed"
const EVENT_AGENT_COMMUNICATION = "agent:communication"
const EVENT_WORKFLOW_ERROR = "workflow:error"
const EVENT_WORKFLOW_ELICITATION = "workflow:elicitation"
const EVENT_WORKFLOW_STATUS = "workflow:status"

// CLOSED_TTL is how long publishes to a closed workflow keep being dropped.
const CLOSED_TTL = time.Hour

type Handler func(msg model.Message)

// Handlers maps event names to callbacks. Every message is delivered to
// EVENT_MESSAGE and to the event derived from its type.
type Handlers map[string]Handler

func EventFor(t model.MessageType) string {
	switch t {
	case model.MSG_ACTIVATION:
		return EVENT_AGENT_ACTIVATED
	case model.MSG_COMPLETION:
		return EVENT_AGENT_COMPLETED
	case model.MSG_INTER_AGENT:
		return EVENT_AGENT_COMMUNICATION
	case model.MSG_ERROR:
		return EVENT_WORKFLOW_ERROR
	case model.MSG_ELICITATION_REQUEST, model.MSG_ELICITATION_RESPONSE:
		return EVENT_WORKFLOW_ELICITATION
	default:
		return EVENT_WORKFLOW_STATUS
	}
}

type stream struct {
	// deliver is held for the whole of a publish so handlers see messages
	// in publish order.
	deliver sync.Mutex
	mu      sync.Mutex
	history []model.Message
	stats   *Statistics
	subs    map[uint64]Handlers
}

type Channel struct {
	mu           sync.Mutex
	streams      map[string]*stream
	closed       *gocache.Cache
	nextSub      uint64
	historyLimit int
}

// NewChannel keeps at most historyLimit messages per workflow, 0 keeps all.
func NewChannel(historyLimit int) *Channel {
	return &Channel{
		streams:      make(map[string]*stream),
		closed:       gocache.New(CLOSED_TTL, 10*time.Minute),
		historyLimit: historyLimit,
	}
}

func (c *Channel) stream(workflowId string) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[workflowId]
	if !ok {
		s = &stream{
			stats: newStatistics(workflowId),
			subs:  make(map[uint64]Handlers),
		}
		c.streams[workflowId] = s
	}
	return s
}

func (c *Channel) lookup(workflowId string) (*stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[workflowId]
	return s, ok
}

// Publish records msg and delivers it synchronously. Handlers must not publish
// to the same workflow. Messages for a closed workflow are dropped.
func (c *Channel) Publish(workflowId string, msg model.Message) model.Message {
	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.WorkflowId = workflowId
	if _, closed := c.closed.Get(workflowId); closed {
		logger.Debug("dropping message for closed channel", zap.String("workflowId", workflowId), zap.String("type", string(msg.Type)))
		return msg
	}

	s := c.stream(workflowId)
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	s.history = append(s.history, msg)
	if c.historyLimit > 0 && len(s.history) > c.historyLimit {
		s.history = append([]model.Message(nil), s.history[len(s.history)-c.historyLimit:]...)
	}
	s.stats.record(msg)
	subs := make([]Handlers, 0, len(s.subs))
	for _, id := range sortedKeys(s.subs) {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	event := EventFor(msg.Type)
	for _, h := range subs {
		if fn, ok := h[EVENT_MESSAGE]; ok {
			invoke(EVENT_MESSAGE, fn, msg)
		}
		if fn, ok := h[event]; ok {
			invoke(event, fn, msg)
		}
	}
	return msg
}

func invoke(event string, fn Handler, msg model.Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("channel handler panicked", zap.String("event", event), zap.String("workflowId", msg.WorkflowId), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(msg)
}

// Subscribe registers handlers and returns an idempotent unsubscribe func.
func (c *Channel) Subscribe(workflowId string, handlers Handlers) func() {
	s := c.stream(workflowId)
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.mu.Unlock()

	copied := make(Handlers, len(handlers))
	for k, v := range handlers {
		copied[k] = v
	}
	s.mu.Lock()
	s.subs[id] = copied
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (c *Channel) SubscriberCount(workflowId string) int {
	s, ok := c.lookup(workflowId)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// GetHistory returns the newest limit messages, oldest first. limit <= 0 returns all.
func (c *Channel) GetHistory(workflowId string, limit int) []model.Message {
	s, ok := c.lookup(workflowId)
	if !ok {
		return []model.Message{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]model.Message, len(h))
	copy(out, h)
	return out
}

func (c *Channel) GetStatistics(workflowId string) Statistics {
	s, ok := c.lookup(workflowId)
	if !ok {
		return *newStatistics(workflowId)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.copy()
}

type TimelineEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	ElapsedMs int64             `json:"elapsedMs"`
	Type      model.MessageType `json:"type"`
	From      string            `json:"from"`
	To        string            `json:"to,omitempty"`
	Summary   string            `json:"summary"`
}

func (c *Channel) GetTimeline(workflowId string) []TimelineEntry {
	history := c.GetHistory(workflowId, 0)
	out := make([]TimelineEntry, 0, len(history))
	if len(history) == 0 {
		return out
	}
	start := history[0].Timestamp
	for _, m := range history {
		out = append(out, TimelineEntry{
			Timestamp: m.Timestamp,
			ElapsedMs: m.Timestamp.Sub(start).Milliseconds(),
			Type:      m.Type,
			From:      m.From,
			To:        m.To,
			Summary:   summarize(m.Content, 120),
		})
	}
	return out
}

// CloseChannel drops history, statistics and subscriptions of a workflow.
// Later publishes to it are dropped for CLOSED_TTL.
func (c *Channel) CloseChannel(workflowId string) {
	c.closed.SetDefault(workflowId, struct{}{})
	c.mu.Lock()
	s, ok := c.streams[workflowId]
	delete(c.streams, workflowId)
	c.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.subs = make(map[uint64]Handlers)
	s.history = nil
	s.mu.Unlock()
	logger.Debug("channel closed", zap.String("workflowId", workflowId))
}

func (c *Channel) Workflows() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.streams))
	for id := range c.streams {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[uint64]Handlers) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func summarize(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
