package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/metadata"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const WORKFLOW_DEF string = "WORKFLOW_DEF"

var _ metadata.MetadataStorage = new(redisMetadataStorage)

type redisMetadataStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.WorkflowDefinition]
}

func NewRedisMetadataStorage(client rd.UniversalClient, namespace string) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:        newBaseDao(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
	}
}

func (s *redisMetadataStorage) SaveWorkflowDefinition(ctx context.Context, def model.WorkflowDefinition) error {
	data, err := s.encoderDecoder.Encode(def)
	if err != nil {
		return err
	}
	if err := s.redisClient.HSet(ctx, s.getNamespaceKey(WORKFLOW_DEF), def.Name, data).Err(); err != nil {
		logger.Error("error in saving workflow definition", zap.String("template", def.Name), zap.Error(err))
		return persistence.StorageLayerError{Message: "saving workflow definition " + def.Name, Err: err}
	}
	return nil
}

func (s *redisMetadataStorage) DeleteWorkflowDefinition(ctx context.Context, name string) error {
	if err := s.redisClient.HDel(ctx, s.getNamespaceKey(WORKFLOW_DEF), name).Err(); err != nil {
		return persistence.StorageLayerError{Message: "deleting workflow definition " + name, Err: err}
	}
	return nil
}

func (s *redisMetadataStorage) GetWorkflowDefinition(ctx context.Context, name string) (*model.WorkflowDefinition, error) {
	val, err := s.redisClient.HGet(ctx, s.getNamespaceKey(WORKFLOW_DEF), name).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, fmt.Errorf("%w: template %s", model.ErrSequenceNotFound, name)
		}
		return nil, persistence.StorageLayerError{Message: "loading workflow definition " + name, Err: err}
	}
	return s.encoderDecoder.Decode([]byte(val))
}

func (s *redisMetadataStorage) ListWorkflowDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error) {
	vals, err := s.redisClient.HVals(ctx, s.getNamespaceKey(WORKFLOW_DEF)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "listing workflow definitions", Err: err}
	}
	out := make([]model.WorkflowDefinition, 0, len(vals))
	for _, v := range vals {
		def, err := s.encoderDecoder.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
