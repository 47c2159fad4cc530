package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const WORKFLOW_KEY string = "WORKFLOW"
const STATUS_KEY string = "STATUS"

var _ persistence.WorkflowStore = new(redisWorkflowStore)

// redisWorkflowStore keeps snapshots in one hash keyed by workflow id and a
// set of ids per status for filtered listing.
type redisWorkflowStore struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Workflow]
}

func NewRedisWorkflowStore(client rd.UniversalClient, namespace string) *redisWorkflowStore {
	return &redisWorkflowStore{
		baseDao:        newBaseDao(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (s *redisWorkflowStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	data, err := s.encoderDecoder.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: "encoding workflow " + wf.Id, Err: err}
	}
	key := s.getNamespaceKey(WORKFLOW_KEY)
	_, err = s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, key, wf.Id, data)
		for _, st := range allStatuses {
			if st == wf.Status {
				pipe.SAdd(ctx, s.getNamespaceKey(STATUS_KEY, string(st)), wf.Id)
			} else {
				pipe.SRem(ctx, s.getNamespaceKey(STATUS_KEY, string(st)), wf.Id)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("error saving workflow", zap.String("workflowId", wf.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: "saving workflow " + wf.Id, Err: err}
	}
	return nil
}

func (s *redisWorkflowStore) LoadWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	val, err := s.redisClient.HGet(ctx, s.getNamespaceKey(WORKFLOW_KEY), workflowId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, fmt.Errorf("%w: %s", model.ErrWorkflowNotFound, workflowId)
		}
		return nil, persistence.StorageLayerError{Message: "loading workflow " + workflowId, Err: err}
	}
	wf, err := s.encoderDecoder.Decode([]byte(val))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "decoding workflow " + workflowId, Err: err}
	}
	return wf, nil
}

func (s *redisWorkflowStore) DeleteWorkflow(ctx context.Context, workflowId string) error {
	_, err := s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HDel(ctx, s.getNamespaceKey(WORKFLOW_KEY), workflowId)
		for _, st := range allStatuses {
			pipe.SRem(ctx, s.getNamespaceKey(STATUS_KEY, string(st)), workflowId)
		}
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: "deleting workflow " + workflowId, Err: err}
	}
	return nil
}

func (s *redisWorkflowStore) ListWorkflows(ctx context.Context, filter persistence.ListFilter) ([]*model.Workflow, error) {
	var values []string
	if filter.Status != "" {
		ids, err := s.redisClient.SMembers(ctx, s.getNamespaceKey(STATUS_KEY, string(filter.Status))).Result()
		if err != nil {
			return nil, persistence.StorageLayerError{Message: "listing workflow ids", Err: err}
		}
		if len(ids) == 0 {
			return []*model.Workflow{}, nil
		}
		raw, err := s.redisClient.HMGet(ctx, s.getNamespaceKey(WORKFLOW_KEY), ids...).Result()
		if err != nil {
			return nil, persistence.StorageLayerError{Message: "listing workflows", Err: err}
		}
		for _, r := range raw {
			if str, ok := r.(string); ok {
				values = append(values, str)
			}
		}
	} else {
		all, err := s.redisClient.HVals(ctx, s.getNamespaceKey(WORKFLOW_KEY)).Result()
		if err != nil {
			return nil, persistence.StorageLayerError{Message: "listing workflows", Err: err}
		}
		values = all
	}
	out := make([]*model.Workflow, 0, len(values))
	for _, v := range values {
		wf, err := s.encoderDecoder.Decode([]byte(v))
		if err != nil {
			return nil, persistence.StorageLayerError{Message: "decoding workflow", Err: err}
		}
		if filter.Matches(wf) {
			out = append(out, wf)
		}
	}
	return persistence.SortAndLimit(out, filter.Limit), nil
}

var allStatuses = []model.WorkflowStatus{
	model.INITIALIZING,
	model.RUNNING,
	model.PAUSED,
	model.PAUSED_FOR_ELICITATION,
	model.COMPLETED,
	model.ERROR,
	model.CANCELLED,
}
