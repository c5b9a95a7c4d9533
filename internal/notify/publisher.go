package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel carrying a user's notifications.
func Channel(userID uint) string {
	return fmt.Sprintf("notifications:%d", userID)
}

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel(n.UserID), data).Err()
}

// Subscribe listens on the user's channel. The caller closes the returned
// subscription.
func (p *RedisPublisher) Subscribe(ctx context.Context, userID uint) *redis.PubSub {
	return p.rdb.Subscribe(ctx, Channel(userID))
}
