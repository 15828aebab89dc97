package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFeed subscribes to envelopes published on a Redis pub/sub channel per table
// ("realtime:Chat_Message"). Redis has no server-side row filter, so the filter runs here.
type RedisFeed struct {
	client *redis.Client
	opts   options
}

// NewRedisFeed wraps an already connected client.
func NewRedisFeed(client *redis.Client, opts ...Option) *RedisFeed {
	return &RedisFeed{
		client: client,
		opts:   newOptions(opts),
	}
}

// Channel returns the pub/sub channel carrying changes of table.
func (f *RedisFeed) Channel(table string) string {
	return f.opts.redisPrefix + table
}

type redisSub struct {
	pubsub *redis.PubSub
	events chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.SugaredLogger
}

// Subscribe waits for Redis to confirm the subscription before returning.
func (f *RedisFeed) Subscribe(ctx context.Context, channel string, filter Filter) (Subscription, error) {
	name := f.Channel(filter.Table)
	pubsub := f.client.Subscribe(ctx, name)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("realtime: redis subscribe %s: %w", name, err)
	}

	f.opts.logger.Debugw("redis channel subscribed", "channel", name, "subscriber", channel, "filter", filter.Predicate())

	s := &redisSub{
		pubsub: pubsub,
		events: make(chan []byte, 64),
		done:   make(chan struct{}),
		logger: f.opts.logger,
	}
	go s.pump(pubsub.Channel(), filter)

	return s, nil
}

// Publish sends an envelope to every subscriber of table.
func (f *RedisFeed) Publish(ctx context.Context, table string, envelope []byte) error {
	if err := f.client.Publish(ctx, f.Channel(table), envelope).Err(); err != nil {
		return fmt.Errorf("realtime: redis publish: %w", err)
	}
	return nil
}

func (s *redisSub) pump(ch <-chan *redis.Message, filter Filter) {
	defer close(s.events)

	for msg := range ch {
		payload := []byte(msg.Payload)
		if !filter.Match(payload) {
			continue
		}
		select {
		case s.events <- payload:
		case <-s.done:
			return
		}
	}
	select {
	case <-s.done:
	default:
		s.logger.Warn("redis subscription ended")
	}
}

func (s *redisSub) Events() <-chan []byte { return s.events }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
