package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalhub/roomrelay/internal/signal"
)

const (
	channelPrefix = "room:"

	connectBackoffBase = 500 * time.Millisecond
	connectBackoffStep = 500 * time.Millisecond
	connectMaxAttempts = 5
)

// redisBridge is a Bridge backed by Redis pub/sub. Each room maps to channel
// "room:{roomId}"; subscriptions are added to and removed from a single
// shared *redis.PubSub connection as rooms come and go.
type redisBridge struct {
	log    *slog.Logger
	client *redis.Client
	pubsub *redis.PubSub

	mu      sync.Mutex
	rooms   map[string]struct{}
	closing chan struct{}
	closed  bool

	incoming chan Message
}

// NewRedis connects to the given Redis URL, retrying with exponential
// backoff (base 500ms, +500ms per attempt, 5 attempts) before giving up.
// Callers that get ErrUnavailable back should degrade to NewNoop rather
// than fail startup.
func NewRedis(ctx context.Context, redisURL string, log *slog.Logger) (Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid REDIS_URL: %v", ErrUnavailable, err)
	}
	client := redis.NewClient(opts)

	var lastErr error
	for attempt := 0; attempt < connectMaxAttempts; attempt++ {
		if attempt > 0 {
			wait := connectBackoffBase + time.Duration(attempt-1)*connectBackoffStep
			log.Warn("bridge: retrying redis connection", "attempt", attempt+1, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				_ = client.Close()
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}
		if err := client.Ping(ctx).Err(); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}

	pubsub := client.Subscribe(ctx)

	b := &redisBridge{
		log:      log,
		client:   client,
		pubsub:   pubsub,
		rooms:    make(map[string]struct{}),
		closing:  make(chan struct{}),
		incoming: make(chan Message, 64),
	}
	go b.readLoop()
	return b, nil
}

func (b *redisBridge) Subscribe(roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if _, ok := b.rooms[roomID]; ok {
		return nil
	}
	if err := b.pubsub.Subscribe(context.Background(), channelName(roomID)); err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, roomID, err)
	}
	b.rooms[roomID] = struct{}{}
	return nil
}

func (b *redisBridge) Unsubscribe(roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if _, ok := b.rooms[roomID]; !ok {
		return nil
	}
	if err := b.pubsub.Unsubscribe(context.Background(), channelName(roomID)); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %v", ErrUnavailable, roomID, err)
	}
	delete(b.rooms, roomID)
	return nil
}

func (b *redisBridge) Publish(roomID string, env signal.Envelope) error {
	b.mu.Lock()
	_, subscribed := b.rooms[roomID]
	b.mu.Unlock()
	if !subscribed {
		return nil
	}

	payload, err := signal.Encode(env)
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %v", ErrUnavailable, err)
	}
	if err := b.client.Publish(context.Background(), channelName(roomID), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrUnavailable, roomID, err)
	}
	return nil
}

func (b *redisBridge) Incoming() <-chan Message {
	return b.incoming
}

func (b *redisBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.closing)
	err := b.pubsub.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *redisBridge) readLoop() {
	defer close(b.incoming)
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.closing:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			roomID, ok := roomIDFromChannel(msg.Channel)
			if !ok {
				continue
			}
			env, err := signal.Decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("bridge: dropping malformed inbound envelope", "room_id", roomID, "error", err)
				continue
			}
			select {
			case b.incoming <- Message{RoomID: roomID, Envelope: env}:
			case <-b.closing:
				return
			}
		}
	}
}

func channelName(roomID string) string {
	return channelPrefix + roomID
}

func roomIDFromChannel(channel string) (string, bool) {
	if len(channel) <= len(channelPrefix) || channel[:len(channelPrefix)] != channelPrefix {
		return "", false
	}
	return channel[len(channelPrefix):], true
}
