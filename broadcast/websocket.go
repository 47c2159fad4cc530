package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/mohitkumar/agentorchy/logger"
	"go.uber.org/zap"
)

var _ Publisher = new(Hub)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps websocket clients per channel name. Clients only receive; slow
// clients drop events once their buffer is full.
type Hub struct {
	mu           sync.Mutex
	clients      map[string]map[*client]struct{}
	sendBuffer   int
	writeTimeout time.Duration
}

func NewHub(sendBuffer int, writeTimeout time.Duration) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		clients:      make(map[string]map[*client]struct{}),
		sendBuffer:   sendBuffer,
		writeTimeout: writeTimeout,
	}
}

// Serve upgrades the request and streams events of channelName until the
// client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channelName string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		logger.Warn("websocket accept failed", zap.String("channel", channelName), zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}
	h.register(channelName, c)
	defer h.unregister(channelName, c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "hub closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Debug("websocket write failed", zap.String("channel", channelName), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) register(channelName string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[channelName]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[channelName] = set
	}
	set[c] = struct{}{}
	logger.Debug("websocket client joined", zap.String("channel", channelName), zap.Int("clients", len(set)))
}

func (h *Hub) unregister(channelName string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[channelName]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, channelName)
	}
}

func (h *Hub) Publish(channelName string, eventName string, payload any) {
	data, err := json.Marshal(newEvent(channelName, eventName, payload))
	if err != nil {
		logger.Error("error encoding broadcast event", zap.String("channel", channelName), zap.String("event", eventName), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[channelName] {
		select {
		case c.send <- data:
		default:
			logger.Warn("dropping event for slow websocket client", zap.String("channel", channelName), zap.String("event", eventName))
		}
	}
}

func (h *Hub) ClientCount(channelName string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[channelName])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, name)
	}
}
