package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyFmt = "session:%d"

// One active token per user; logging in again replaces it.
func SetSession(ctx context.Context, rdb *redis.Client, userID uint, token string, ttl time.Duration) error {
	return rdb.Set(ctx, fmt.Sprintf(sessionKeyFmt, userID), token, ttl).Err()
}

func GetSession(ctx context.Context, rdb *redis.Client, userID uint) (string, error) {
	return rdb.Get(ctx, fmt.Sprintf(sessionKeyFmt, userID)).Result()
}

func DeleteSession(ctx context.Context, rdb *redis.Client, userID uint) error {
	return rdb.Del(ctx, fmt.Sprintf(sessionKeyFmt, userID)).Err()
}
