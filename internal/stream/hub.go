package stream

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "stream:"

// Hub fans payloads out to websocket clients grouped by stream key. With Redis
// configured every payload goes through a Redis channel, so clients connected to any
// instance receive it exactly once.
type Hub struct {
	redis   *redis.Client
	logger  *log.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	pubsub *redis.PubSub
	done   chan struct{}
}

type Client struct {
	Key  string
	Send chan []byte
}

type Option func(*Hub)

func WithLogger(logger *log.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

func NewHub(redisClient *redis.Client, opts ...Option) *Hub {
	h := &Hub{
		redis:   redisClient,
		logger:  log.New(log.Writer(), "[stream] ", log.LstdFlags),
		clients: map[string]map[*Client]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}

	if redisClient != nil {
		ctx := context.Background()
		h.done = make(chan struct{})
		h.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*")
		// wait for the subscription so nothing published after NewHub is missed
		if _, err := h.pubsub.Receive(ctx); err != nil {
			h.logger.Printf("redis subscribe error: %v", err)
		}
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(key string) *Client {
	client := &Client{
		Key:  key,
		Send: make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[key] == nil {
		h.clients[key] = map[*Client]struct{}{}
	}
	h.clients[key][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.Key]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.Key)
	}
	close(client.Send)
}

// Broadcast delivers payload to every client on key. Slow clients drop messages rather
// than block the publisher.
func (h *Hub) Broadcast(key string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(key), payload).Err()
		if err == nil {
			return
		}
		h.logger.Printf("redis publish error: %v", err)
	}
	h.deliver(key, payload)
}

func (h *Hub) deliver(key string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[key] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer close(h.done)

	for msg := range h.pubsub.Channel() {
		key, ok := keyFromChannel(msg.Channel)
		if !ok {
			continue
		}
		h.deliver(key, []byte(msg.Payload))
	}
}

// Close stops the Redis subscription. Registered clients are left to their handlers.
func (h *Hub) Close() {
	if h.pubsub == nil {
		return
	}
	if err := h.pubsub.Close(); err != nil {
		h.logger.Printf("redis unsubscribe error: %v", err)
	}
	<-h.done
}

func redisChannel(key string) string {
	return channelPrefix + key
}

func keyFromChannel(ch string) (string, bool) {
	key, ok := strings.CutPrefix(ch, channelPrefix)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
