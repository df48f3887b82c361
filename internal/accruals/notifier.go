package accruals

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PostedChannel is the pub/sub channel carrying PostedEvent payloads.
const PostedChannel = "accruals.posted"

// RedisNotifier publishes posting events over redis pub/sub.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotifier constructs a notifier on PostedChannel.
func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client, channel: PostedChannel}
}

// PublishPosted sends event as JSON.
func (n *RedisNotifier) PublishPosted(ctx context.Context, event PostedEvent) error {
	if n == nil || n.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("accruals: encode event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("accruals: publish event: %w", err)
	}
	return nil
}

// Subscribe delivers posting events to fn until ctx is done. Undecodable
// messages are skipped.
func Subscribe(ctx context.Context, client redis.UniversalClient, fn func(PostedEvent)) error {
	sub := client.Subscribe(ctx, PostedChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("accruals: subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event PostedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			fn(event)
		}
	}
}
