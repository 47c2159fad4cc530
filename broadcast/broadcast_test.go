package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
}

func (r *recorder) Publish(channelName string, eventName string, payload any) {
	r.events = append(r.events, newEvent(channelName, eventName, payload))
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, NoopPublisher{}, LogPublisher{}, b}
	m.Publish("workflow-1", "agent:activated", map[string]any{"agent": "pm"})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	require.Equal(t, "agent:activated", b.events[0].Event)
	require.Equal(t, "workflow-1", b.events[0].Channel)
}

func TestHub(t *testing.T) {
	hub := NewHub(8, time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL+"/workflow-1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return hub.ClientCount("workflow-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish("workflow-2", "workflow:status", "ignored")
	hub.Publish("workflow-1", "agent:completed", map[string]any{"agent": "analyst"})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "workflow-1", ev.Channel)
	require.Equal(t, "agent:completed", ev.Event)
	require.Equal(t, map[string]any{"agent": "analyst"}, ev.Payload)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		return hub.ClientCount("workflow-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(1, time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "workflow-1")
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return hub.ClientCount("workflow-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pub := NewRedisPublisher(client, "agentorchy")
	require.Equal(t, "agentorchy:workflow-1", pub.ChannelName("workflow-1"))

	sub := client.Subscribe(ctx, pub.ChannelName("workflow-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub.Publish("workflow-1", "workflow:error", map[string]any{"errorType": "mock_step_error"})

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		require.Equal(t, "workflow:error", ev.Event)
		require.Equal(t, "mock_step_error", ev.Payload.(map[string]any)["errorType"])
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestRedisPublisherUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	NewRedisPublisher(client, "").Publish("workflow-1", "message", "dropped")
}
