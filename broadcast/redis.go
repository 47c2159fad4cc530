package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mohitkumar/agentorchy/logger"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Publisher = new(RedisPublisher)

// RedisPublisher forwards events to redis pub/sub channels named
// <namespace>:<channel>.
type RedisPublisher struct {
	client    rd.UniversalClient
	namespace string
	timeout   time.Duration
}

func NewRedisPublisher(client rd.UniversalClient, namespace string) *RedisPublisher {
	return &RedisPublisher{
		client:    client,
		namespace: namespace,
		timeout:   2 * time.Second,
	}
}

func (r *RedisPublisher) ChannelName(channelName string) string {
	if r.namespace == "" {
		return channelName
	}
	return r.namespace + ":" + channelName
}

func (r *RedisPublisher) Publish(channelName string, eventName string, payload any) {
	data, err := json.Marshal(newEvent(channelName, eventName, payload))
	if err != nil {
		logger.Error("error encoding broadcast event", zap.String("channel", channelName), zap.String("event", eventName), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.ChannelName(channelName), data).Err(); err != nil {
		logger.Error("error publishing event to redis", zap.String("channel", channelName), zap.String("event", eventName), zap.Error(err))
	}
}
