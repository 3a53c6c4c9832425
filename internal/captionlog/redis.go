package captionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// redisLog хранит список на комнату, RPUSH + LTRIM держат окно последних keep записей.
type redisLog struct {
	client *redis.Client
	keep   int
	ttl    time.Duration
	prefix string
}

func (l *redisLog) key(roomID string) string { return l.prefix + roomID }

func (l *redisLog) Append(ctx context.Context, roomID string, c domain.Caption) error {
	val, err := json.Marshal(c)
	if err != nil {
		return err
	}
	key := l.key(roomID)

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.LTrim(ctx, key, int64(-l.keep), -1)
		if l.ttl > 0 {
			pipe.Expire(ctx, key, l.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("captionlog: append: %w", err)
	}
	return nil
}

func (l *redisLog) Recent(ctx context.Context, roomID string) ([]domain.Caption, error) {
	vals, err := l.client.LRange(ctx, l.key(roomID), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("captionlog: recent: %w", err)
	}

	out := make([]domain.Caption, 0, len(vals))
	for _, v := range vals {
		var c domain.Caption
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (l *redisLog) Drop(ctx context.Context, roomID string) error {
	return l.client.Del(ctx, l.key(roomID)).Err()
}

func (l *redisLog) Close() error {
	return l.client.Close()
}
