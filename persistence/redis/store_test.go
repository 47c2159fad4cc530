package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohitkumar/agentorchy/metadata"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/persistence/storetest"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *miniredis.Miniredis {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func TestRedisWorkflowStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.WorkflowStore {
		mr := newTestClient(t)
		client := NewClient(Config{Addrs: []string{mr.Addr()}})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisWorkflowStore(client, "test")
	})
}

func TestRedisWorkflowStoreKeys(t *testing.T) {
	mr := newTestClient(t)
	client := NewClient(Config{Addrs: []string{mr.Addr()}})
	defer client.Close()
	store := NewRedisWorkflowStore(client, "test")

	require.NoError(t, store.SaveWorkflow(context.Background(), storetest.SampleWorkflow("wf-1", model.PAUSED)))
	require.True(t, mr.Exists("test:WORKFLOW"))
	ok, err := mr.SIsMember("test:STATUS:PAUSED", "wf-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisWorkflowStoreUnavailable(t *testing.T) {
	mr := newTestClient(t)
	client := NewClient(Config{Addrs: []string{mr.Addr()}})
	defer client.Close()
	store := NewRedisWorkflowStore(client, "test")
	mr.Close()

	err := store.SaveWorkflow(context.Background(), storetest.SampleWorkflow("wf-1", model.RUNNING))
	var serr persistence.StorageLayerError
	require.True(t, errors.As(err, &serr))
}

func TestRedisMetadataStorage(t *testing.T) {
	mr := newTestClient(t)
	client := NewClient(Config{Addrs: []string{mr.Addr()}})
	defer client.Close()
	ctx := context.Background()

	svc, err := metadata.NewSequenceService(NewRedisMetadataStorage(client, "test"))
	require.NoError(t, err)
	require.NoError(t, svc.SeedTemplates(ctx, ""))

	defs, err := svc.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	seq, err := svc.Resolve(ctx, "", "greenfield-service")
	require.NoError(t, err)
	require.NotEmpty(t, seq.Steps)

	require.NoError(t, svc.DeleteDefinition(ctx, "greenfield-service"))
	_, err = svc.GetDefinition(ctx, "greenfield-service")
	require.True(t, errors.Is(err, model.ErrSequenceNotFound))
}
