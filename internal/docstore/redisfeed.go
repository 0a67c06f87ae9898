package docstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "docstore:"

// RedisFeed carries commits between processes that share a backend. Each
// document has its own pub/sub channel; the payload is the whole committed
// Document so watchers never need a second read.
type RedisFeed struct {
	redis  *redis.Client
	logger *log.Logger
}

func NewRedisFeed(client *redis.Client, logger *log.Logger) *RedisFeed {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisFeed{redis: client, logger: logger.WithPrefix("redisfeed")}
}

func redisChannel(collection, key string) string {
	return redisChannelPrefix + topic(collection, key)
}

func (f *RedisFeed) Publish(ctx context.Context, doc *Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := f.redis.Publish(ctx, redisChannel(doc.Collection, doc.Key), payload).Err(); err != nil {
		return errors.Wrap(err, "redisfeed.Publish")
	}
	return nil
}

// Watch returns once Redis has confirmed the subscription, so a commit made
// after Watch returns is never missed.
func (f *RedisFeed) Watch(ctx context.Context, collection, key string, fn func(*Document)) (Cancel, error) {
	channel := redisChannel(collection, key)
	pubsub := f.redis.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrap(err, "redisfeed.Watch.Receive")
	}

	go func() {
		for msg := range pubsub.Channel() {
			var doc Document
			if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
				f.logger.Warn("dropping malformed change", "channel", channel, "err", err)
				continue
			}
			fn(&doc)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = pubsub.Close() })
	}, nil
}

func (f *RedisFeed) Close() error {
	return f.redis.Close()
}
