// Package captionlog хранит последние финальные субтитры комнаты,
// чтобы подключившийся позже участник получил историю.
package captionlog

import (
	"context"
	"errors"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

var (
	ErrInvalidDriver = errors.New("captionlog: unknown driver")
	ErrInvalidConfig = errors.New("captionlog: invalid config")
)

type Log interface {
	Append(ctx context.Context, roomID string, c domain.Caption) error
	Recent(ctx context.Context, roomID string) ([]domain.Caption, error)
	Drop(ctx context.Context, roomID string) error
	Close() error
}

type Option func(*config)

type config struct {
	keep        int
	ttl         time.Duration
	keyPrefix   string
	redisClient *redis.Client
}

// WithKeep: сколько последних субтитров хранить на комнату.
func WithKeep(n int) Option {
	return func(c *config) { c.keep = n }
}

// WithTTL: время жизни ключа комнаты в Redis.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

func WithKeyPrefix(p string) Option {
	return func(c *config) { c.keyPrefix = p }
}

func WithRedisClient(client *redis.Client) Option {
	return func(c *config) { c.redisClient = client }
}

func New(driver Driver, opts ...Option) (Log, error) {
	cfg := &config{keep: 50, ttl: 6 * time.Hour, keyPrefix: "captions:"}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.keep <= 0 {
		return nil, ErrInvalidConfig
	}

	switch driver {
	case DriverMemory, "":
		return newMemoryLog(cfg.keep), nil
	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisLog{client: cfg.redisClient, keep: cfg.keep, ttl: cfg.ttl, prefix: cfg.keyPrefix}, nil
	default:
		return nil, ErrInvalidDriver
	}
}
