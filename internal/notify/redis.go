// Package notify fans version tuples out to other processes over Redis
// pub/sub so that every replica can refresh its list view.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"soulcrush/internal/refresh"
)

// Message is the JSON payload published for each new tuple.
type Message struct {
	Source string           `json:"source"`
	Key    refresh.Versions `json:"key"`
}

// RedisPublisher implements refresh.Publisher.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
	source  string
}

// NewRedisPublisher publishes on channel. source identifies this process
// so that subscribers can ignore their own messages.
func NewRedisPublisher(rdb redis.UniversalClient, channel, source string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel, source: source}
}

func (p *RedisPublisher) Publish(ctx context.Context, v refresh.Versions) error {
	payload, err := json.Marshal(Message{Source: p.source, Key: v})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}

// Listen forces a refresh on ctrl whenever another process reports
// a mutation, so this replica re-reads rows it did not write itself. It
// blocks until ctx is cancelled.
func Listen(ctx context.Context, rdb redis.UniversalClient, channel, source string, ctrl *refresh.Controller, logger *slog.Logger) {
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if remoteMutation(msg.Payload, source, logger) {
				ctrl.Retry()
			}
		}
	}
}

// remoteMutation reports whether payload announces a mutation made by a
// process other than source.
func remoteMutation(payload, source string, logger *slog.Logger) bool {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		logger.Warn("ignoring malformed version message", "error", err)
		return false
	}
	if m.Source == source {
		return false
	}
	logger.Debug("remote mutation observed", "source", m.Source, "key", m.Key.String())
	return true
}
