package broadcast

import (
	"time"

	"github.com/mohitkumar/agentorchy/logger"
	"go.uber.org/zap"
)

// Event is the envelope pushed to real-time subscribers.
type Event struct {
	Channel   string    `json:"channel"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events fire-and-forget. Failures are logged, never
// returned.
type Publisher interface {
	Publish(channelName string, eventName string, payload any)
}

func newEvent(channelName string, eventName string, payload any) Event {
	return Event{
		Channel:   channelName,
		Event:     eventName,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(string, string, any) {}

type LogPublisher struct{}

func (LogPublisher) Publish(channelName string, eventName string, payload any) {
	logger.Debug("broadcast event", zap.String("channel", channelName), zap.String("event", eventName), zap.Any("payload", payload))
}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(channelName string, eventName string, payload any) {
	for _, p := range m {
		p.Publish(channelName, eventName, payload)
	}
}
