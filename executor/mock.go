package executor

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mohitkumar/agentorchy/model"
)

var _ Strategy = new(MockStrategy)

type MockConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64
	Seed        int64
}

// MockStrategy returns canned artifacts after a random delay and fails at the
// configured rate.
type MockStrategy struct {
	conf MockConfig
	mu   sync.Mutex
	rnd  *rand.Rand
}

func NewMockStrategy(conf MockConfig) *MockStrategy {
	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if conf.MaxDelay < conf.MinDelay {
		conf.MaxDelay = conf.MinDelay
	}
	return &MockStrategy{
		conf: conf,
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

func (m *MockStrategy) Name() string {
	return "mock"
}

func (m *MockStrategy) Produce(ctx context.Context, agent model.Agent, sc model.StepContext) (*Output, error) {
	delay, fail := m.roll()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return nil, &StepError{Type: model.ERROR_TYPE_MOCK_STEP, Message: fmt.Sprintf("simulated failure of %s running %s", agent.Id, sc.Step.Action), Attempts: 1}
	}
	return &Output{
		Content:  mockContent(agent, sc),
		Outputs:  map[string]any{"agent": agent.Id, "action": sc.Step.Action},
		Attempts: 1,
	}, nil
}

func (m *MockStrategy) roll() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delay := m.conf.MinDelay
	if spread := m.conf.MaxDelay - m.conf.MinDelay; spread > 0 {
		delay += time.Duration(m.rnd.Int63n(int64(spread)))
	}
	fail := m.conf.FailureRate > 0 && m.rnd.Float64() < m.conf.FailureRate
	return delay, fail
}

var mockTemplates = map[string]string{
	"document": "# %s\n\n## Context\n%s\n\n## Instructions\nProduced by %s (%s) for action %s.\n\n## Task\n%s\n",
	"code":     "# %s\n\n## Context\n%s\n\n## Instructions\nImplementation by %s (%s) for action %s.\n\n## Task\n```go\n// %s\nfunc main() {}\n```\n",
	"test":     "# %s\n\n## Context\n%s\n\n## Instructions\nQuality review by %s (%s) for action %s.\n\n## Task\nGate: PASS\n%s\n",
	"report":   "# %s\n\n## Context\n%s\n\n## Instructions\nChecklist by %s (%s) for action %s.\n\n## Task\nAll artifacts consistent.\n%s\n",
}

func mockContent(agent model.Agent, sc model.StepContext) string {
	tmpl, ok := mockTemplates[agent.ArtifactType]
	if !ok {
		tmpl = mockTemplates["document"]
	}
	title := agent.Produces
	if len(sc.Step.Creates) > 0 {
		title = sc.Step.Creates[0]
	}
	task := sc.UserPrompt
	if sc.Elicitation != nil {
		task = task + "\nOperator input: " + sc.Elicitation.Response
	}
	keys := make([]string, 0, len(sc.Context))
	for k := range sc.Context {
		keys = append(keys, k)
	}
	ctxLine := "No prior artifacts."
	if len(keys) > 0 {
		ctxLine = "Builds on: " + strings.Join(sortedStrings(keys), ", ")
	}
	return fmt.Sprintf(tmpl, title, ctxLine, agent.Name, agent.Title, sc.Step.Action, task)
}
