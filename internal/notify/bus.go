package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	channel       = "buildmat.refresh"
	lastKeyPrefix = "notify:last:"
)

// HandlerFunc consumes a refresh event. Handlers must be fast; slow work
// belongs in the refetch the handler triggers, not the handler itself.
type HandlerFunc func(Event)

// Bus publishes refresh topics durably (per-topic timestamp key in Redis) and
// broadcasts them over Redis pub/sub so every process of the deployment, and
// every browser tab via SSE, observes the same signal.
//
// Publish and Subscribe never return errors to business code: a failed
// publish is logged and degrades to staleness until the fallback poll.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
	id     string

	mu     sync.RWMutex
	subs   map[Topic]map[int64]HandlerFunc
	nextID int64
}

// NewBus constructs a Bus.
func NewBus(client *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{
		client: client,
		logger: logger,
		id:     uuid.NewString(),
		subs:   make(map[Topic]map[int64]HandlerFunc),
	}
}

// Publish records each topic's timestamp and broadcasts the event. A single
// mutation may touch several topics: a delivery update is visible on both the
// delivery list and the originating record's list.
func (b *Bus) Publish(ctx context.Context, topics ...Topic) {
	now := time.Now().UnixMilli()
	for _, topic := range topics {
		if !topic.Valid() {
			b.logger.Warn("notify: unknown topic dropped", slog.String("topic", string(topic)))
			continue
		}
		ev := Event{Topic: topic, TS: now, Source: b.id}
		if err := b.client.Set(ctx, lastKey(topic), now, 0).Err(); err != nil {
			b.logger.Warn("notify: record timestamp", slog.String("topic", string(topic)), slog.Any("error", err))
		}
		payload, err := json.Marshal(ev)
		if err == nil {
			if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
				b.logger.Warn("notify: publish", slog.String("topic", string(topic)), slog.Any("error", err))
			}
		}
		// Local subscribers are served directly so an unreachable Redis
		// still refreshes views in this process.
		b.dispatch(ev)
	}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function. Safe to call from any goroutine.
func (b *Bus) Subscribe(topic Topic, h HandlerFunc) func() {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int64]HandlerFunc)
	}
	b.subs[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// LastPublished returns when the topic last changed, zero when never.
func (b *Bus) LastPublished(ctx context.Context, topic Topic) (time.Time, error) {
	raw, err := b.client.Get(ctx, lastKey(topic)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// Run consumes the pub/sub channel until the context ends, feeding handlers
// with events published by other processes. Events from this process are
// skipped; they were dispatched at publish time.
func (b *Bus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("notify: bad payload", slog.Any("error", err))
				continue
			}
			if ev.Source == b.id {
				continue
			}
			b.dispatch(ev)
		}
	}
}

// RunFallbackPoll re-reads the per-topic timestamps on a fixed interval and
// dispatches any advance it finds. This is the degraded substitute for push:
// it catches signals missed while the subscriber was disconnected.
func (b *Bus) RunFallbackPoll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	seen := make(map[Topic]int64, len(AllTopics))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, topic := range AllTopics {
				last, err := b.LastPublished(ctx, topic)
				if err != nil {
					b.logger.Warn("notify: fallback poll", slog.String("topic", string(topic)), slog.Any("error", err))
					continue
				}
				if last.IsZero() {
					continue
				}
				ms := last.UnixMilli()
				if prev, ok := seen[topic]; !ok {
					seen[topic] = ms
				} else if ms > prev {
					seen[topic] = ms
					b.dispatch(Event{Topic: topic, TS: ms})
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(b.subs[ev.Topic]))
	for _, h := range b.subs[ev.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		b.safeCall(h, ev)
	}
}

func (b *Bus) safeCall(h HandlerFunc, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notify: handler panic", slog.String("topic", string(ev.Topic)), slog.Any("panic", r))
		}
	}()
	h(ev)
}

func lastKey(topic Topic) string {
	return lastKeyPrefix + string(topic)
}
