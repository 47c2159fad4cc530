package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohitkumar/agentorchy/broadcast"
	"github.com/mohitkumar/agentorchy/config"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence/redis"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const prompt = "Build an inventory service for a bakery"

func testConfig() config.Config {
	conf := config.DefaultConfig()
	conf.HttpPort = 0
	conf.Executor.MockMinDelay = 0
	conf.Executor.MockMaxDelay = 0
	conf.Engine.StepWorkers = 2
	conf.Engine.Partitions = 17
	return conf
}

func runApp(t *testing.T, conf config.Config) *App {
	t.Helper()
	a, err := New(conf)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
	require.Eventually(t, a.Orchestrator().Initialized, 5*time.Second, 10*time.Millisecond)
	return a
}

func waitFor(t *testing.T, a *App, id string, status model.WorkflowStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		wf, err := a.Orchestrator().GetWorkflow(context.Background(), id)
		return err == nil && wf.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func TestApp(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"serves the api in memory":      testInMemory,
		"redis storage and broadcast":   testRedis,
		"rejects unknown configuration": testBadConfig,
	} {
		t.Run(scenario, fn)
	}
}

func testInMemory(t *testing.T) {
	a := runApp(t, testConfig())
	srv := httptest.NewServer(a.HTTPServer().Handler)
	t.Cleanup(srv.Close)

	body, err := json.Marshal(map[string]any{"prompt": prompt, "sequence": "BACKEND_SERVICE"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/workflows", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res model.StartResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	waitFor(t, a, res.WorkflowId, model.COMPLETED)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	require.Equal(t, http.StatusOK, metrics.StatusCode)
}

func testRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	conf := testConfig()
	conf.StorageType = config.STORAGE_TYPE_REDIS
	conf.BroadcastType = config.BROADCAST_TYPE_REDIS
	conf.RedisConfig.Addrs = []string{mr.Addr()}

	client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()
	sub := client.PSubscribe(ctx, conf.RedisConfig.Namespace+":workflow-*")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	a := runApp(t, conf)
	res, err := a.Orchestrator().StartWorkflow(ctx, prompt, model.StartConfig{Sequence: "BACKEND_SERVICE"})
	require.NoError(t, err)
	waitFor(t, a, res.WorkflowId, model.COMPLETED)

	select {
	case msg := <-sub.Channel():
		var ev broadcast.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		require.Equal(t, "workflow-"+res.WorkflowId, ev.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published to redis")
	}

	stored, err := redis.NewRedisWorkflowStore(client, conf.RedisConfig.Namespace).LoadWorkflow(ctx, res.WorkflowId)
	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, stored.Status)
	require.Len(t, stored.Artifacts, 5)
}

func testBadConfig(t *testing.T) {
	conf := testConfig()
	conf.StorageType = "cassandra"
	_, err := New(conf)
	require.Error(t, err)

	conf = testConfig()
	conf.BroadcastType = "carrier-pigeon"
	_, err = New(conf)
	require.Error(t, err)

	conf = testConfig()
	conf.Executor.Strategy = config.EXECUTOR_GENERATIVE
	_, err = New(conf)
	require.Error(t, err)

	conf = testConfig()
	conf.Executor.Strategy = config.EXECUTOR_SCRIPT
	a, err := New(conf)
	require.NoError(t, err)
	require.NoError(t, a.Shutdown())
}
