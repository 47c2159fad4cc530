package channel

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/agentorchy/model"
	"github.com/stretchr/testify/require"
)

func msg(t model.MessageType, from, to string) model.Message {
	return model.Message{Type: t, From: from, To: to, Content: string(t) + " from " + from}
}

func TestChannel(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, c *Channel){
		"publish routes events":            testPublishRoutes,
		"unsubscribe stops delivery":       testUnsubscribe,
		"history is bounded":               testHistoryBound,
		"statistics track agents":          testStatistics,
		"timeline is ordered":              testTimeline,
		"close drops everything":           testClose,
		"delivery keeps publish order":     testOrdering,
		"handler panic does not break bus": testHandlerPanic,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewChannel(5))
		})
	}
}

func testPublishRoutes(t *testing.T, c *Channel) {
	var all, activated, completed, errs, comms []string
	c.Subscribe("wf", Handlers{
		EVENT_MESSAGE:             func(m model.Message) { all = append(all, m.Id) },
		EVENT_AGENT_ACTIVATED:     func(m model.Message) { activated = append(activated, m.From) },
		EVENT_AGENT_COMPLETED:     func(m model.Message) { completed = append(completed, m.From) },
		EVENT_WORKFLOW_ERROR:      func(m model.Message) { errs = append(errs, m.From) },
		EVENT_AGENT_COMMUNICATION: func(m model.Message) { comms = append(comms, m.To) },
	})
	first := c.Publish("wf", msg(model.MSG_ACTIVATION, model.ORCHESTRATOR, "analyst"))
	c.Publish("wf", msg(model.MSG_COMPLETION, "analyst", model.ORCHESTRATOR))
	c.Publish("wf", msg(model.MSG_INTER_AGENT, "analyst", "pm"))
	c.Publish("wf", msg(model.MSG_ERROR, "pm", model.ORCHESTRATOR))
	c.Publish("other", msg(model.MSG_COMPLETION, "qa", model.ORCHESTRATOR))

	require.NotEmpty(t, first.Id)
	require.Equal(t, "wf", first.WorkflowId)
	require.False(t, first.Timestamp.IsZero())
	require.Len(t, all, 4)
	require.Equal(t, []string{model.ORCHESTRATOR}, activated)
	require.Equal(t, []string{"analyst"}, completed)
	require.Equal(t, []string{"pm"}, errs)
	require.Equal(t, []string{"pm"}, comms)
}

func testUnsubscribe(t *testing.T, c *Channel) {
	count := 0
	unsub := c.Subscribe("wf", Handlers{EVENT_MESSAGE: func(model.Message) { count++ }})
	c.Publish("wf", msg(model.MSG_ACTIVATION, model.ORCHESTRATOR, "dev"))
	require.Equal(t, 1, c.SubscriberCount("wf"))
	unsub()
	unsub()
	c.Publish("wf", msg(model.MSG_COMPLETION, "dev", model.ORCHESTRATOR))
	require.Equal(t, 1, count)
	require.Equal(t, 0, c.SubscriberCount("wf"))
}

func testHistoryBound(t *testing.T, c *Channel) {
	for i := 0; i < 8; i++ {
		c.Publish("wf", model.Message{Type: model.MSG_INTER_AGENT, From: "a", To: "b", Content: fmt.Sprint(i)})
	}
	h := c.GetHistory("wf", 0)
	require.Len(t, h, 5)
	require.Equal(t, "3", h[0].Content)
	require.Equal(t, "7", h[4].Content)

	last := c.GetHistory("wf", 2)
	require.Len(t, last, 2)
	require.Equal(t, "6", last[0].Content)

	require.Equal(t, 8, c.GetStatistics("wf").TotalMessages)
	require.Empty(t, c.GetHistory("missing", 10))
}

func testStatistics(t *testing.T, c *Channel) {
	c.Publish("wf", msg(model.MSG_WORKFLOW_STARTED, model.ORCHESTRATOR, ""))
	c.Publish("wf", msg(model.MSG_ACTIVATION, model.ORCHESTRATOR, "analyst"))
	c.Publish("wf", msg(model.MSG_COMPLETION, "analyst", model.ORCHESTRATOR))
	c.Publish("wf", msg(model.MSG_INTER_AGENT, "analyst", "pm"))

	stats := c.GetStatistics("wf")
	require.Equal(t, 4, stats.TotalMessages)
	require.Equal(t, 1, stats.ByType[model.MSG_COMPLETION])
	require.Equal(t, 2, stats.BySender[model.ORCHESTRATOR])
	require.NotNil(t, stats.FirstMessageAt)
	require.False(t, stats.LastMessageAt.Before(*stats.FirstMessageAt))

	analyst := stats.Agents["analyst"]
	require.Equal(t, 1, analyst.Activations)
	require.Equal(t, 1, analyst.Completions)
	require.Equal(t, 1, analyst.Sent)
	require.Equal(t, model.MSG_INTER_AGENT, analyst.LastEvent)
	require.Equal(t, 1, stats.Agents["pm"].Received)
	require.NotContains(t, stats.Agents, model.ORCHESTRATOR)

	stats.ByType[model.MSG_COMPLETION] = 99
	require.Equal(t, 1, c.GetStatistics("wf").ByType[model.MSG_COMPLETION])
}

func testTimeline(t *testing.T, c *Channel) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Publish("wf", model.Message{Type: model.MSG_ACTIVATION, From: model.ORCHESTRATOR, To: "dev", Timestamp: base})
	c.Publish("wf", model.Message{Type: model.MSG_COMPLETION, From: "dev", Timestamp: base.Add(1500 * time.Millisecond), Content: "done"})
	tl := c.GetTimeline("wf")
	require.Len(t, tl, 2)
	require.Equal(t, int64(0), tl[0].ElapsedMs)
	require.Equal(t, int64(1500), tl[1].ElapsedMs)
	require.Equal(t, "done", tl[1].Summary)
}

func testClose(t *testing.T, c *Channel) {
	called := false
	c.Subscribe("wf", Handlers{EVENT_MESSAGE: func(model.Message) { called = true }})
	c.Publish("other", msg(model.MSG_ACTIVATION, model.ORCHESTRATOR, "qa"))
	c.CloseChannel("wf")
	c.CloseChannel("wf")
	c.Publish("wf", msg(model.MSG_ACTIVATION, model.ORCHESTRATOR, "qa"))
	require.False(t, called)
	require.Empty(t, c.GetHistory("wf", 0))
	require.Zero(t, c.GetStatistics("wf").TotalMessages)
	require.Equal(t, []string{"other"}, c.Workflows())
}

func testOrdering(t *testing.T, c *Channel) {
	c = NewChannel(0)
	var mu sync.Mutex
	seen := make([]string, 0)
	c.Subscribe("wf", Handlers{EVENT_MESSAGE: func(m model.Message) {
		mu.Lock()
		seen = append(seen, m.Id)
		mu.Unlock()
	}})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Publish("wf", model.Message{Id: fmt.Sprint(i), Type: model.MSG_INTER_AGENT, From: "a"})
		}(i)
	}
	wg.Wait()
	history := c.GetHistory("wf", 0)
	require.Len(t, seen, 50)
	for i, m := range history {
		require.Equal(t, m.Id, seen[i])
	}
}

func testHandlerPanic(t *testing.T, c *Channel) {
	got := 0
	c.Subscribe("wf", Handlers{EVENT_MESSAGE: func(model.Message) { panic("bad handler") }})
	c.Subscribe("wf", Handlers{EVENT_MESSAGE: func(model.Message) { got++ }})
	c.Publish("wf", msg(model.MSG_ACTIVATION, model.ORCHESTRATOR, "dev"))
	require.Equal(t, 1, got)
}

func TestEventFor(t *testing.T) {
	require.Equal(t, EVENT_WORKFLOW_ELICITATION, EventFor(model.MSG_ELICITATION_REQUEST))
	require.Equal(t, EVENT_WORKFLOW_STATUS, EventFor(model.MSG_WORKFLOW_COMPLETED))
	require.Equal(t, EVENT_WORKFLOW_STATUS, EventFor(model.MSG_CHECKPOINT))
}
