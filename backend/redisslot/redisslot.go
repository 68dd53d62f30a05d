// Package redisslot provides a Redis-backed backend.Slot for deployments
// where the local snapshot must survive host replacement, not just process
// restarts.
package redisslot

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/bookfeedhq/bookfeed-go/backend"
)

// Config for the Redis-backed slot. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SLOT_KEY_PREFIX
	KeyPrefix string `env:"SLOT_KEY_PREFIX,default=bookfeed:slot:"`

	// Client overrides RedisAddr when set; the caller keeps ownership.
	Client *redis.Client
}

// Slot implements backend.Slot on a single Redis key.
type Slot struct {
	client    *redis.Client
	ownClient bool
	key       string
}

var _ backend.Slot = (*Slot)(nil)

// New creates a slot named name under cfg.KeyPrefix.
func New(cfg Config, name string) (*Slot, error) {
	client := cfg.Client
	own := false
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
		own = true
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "bookfeed:slot:"
	}
	return &Slot{client: client, ownClient: own, key: prefix + name}, nil
}

// NewFromEnv builds a Slot using envdecode to populate Config.
func NewFromEnv(name string) (*Slot, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg, name)
}

// Get implements backend.Slot.
func (s *Slot) Get(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("getting slot %q: %w", s.key, err)
	}
	return data, nil
}

// Set implements backend.Slot.
func (s *Slot) Set(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("setting slot %q: %w", s.key, err)
	}
	return nil
}

// Clear implements backend.Slot.
func (s *Slot) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clearing slot %q: %w", s.key, err)
	}
	return nil
}

// Close releases the Redis client when this slot owns it.
func (s *Slot) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
