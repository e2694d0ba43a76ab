package suppression

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisChecker looks addresses up in a Redis set of lowercased emails.
type RedisChecker struct {
	client redis.Cmdable
	key    string
}

func NewRedisChecker(client redis.Cmdable, key string) *RedisChecker {
	return &RedisChecker{client: client, key: key}
}

func (c *RedisChecker) IsSuppressed(ctx context.Context, email string) (bool, error) {
	return c.client.SIsMember(ctx, c.key, strings.ToLower(email)).Result()
}

// Add puts addresses on the list.
func (c *RedisChecker) Add(ctx context.Context, emails ...string) error {
	if len(emails) == 0 {
		return nil
	}
	members := make([]any, len(emails))
	for i, e := range emails {
		members[i] = strings.ToLower(e)
	}
	return c.client.SAdd(ctx, c.key, members...).Err()
}
