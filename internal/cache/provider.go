package cache

// Package cache keeps short-lived idempotency markers for processed payment
// notifications. The gateway retries webhooks until it sees a 2xx, so the
// dedupe state must survive those retries but not much longer.

import (
	"context"
	"fmt"
	"time"
)

// Provider is the dedupe store behind the payment webhook endpoint.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// WebhookKey builds the dedupe key for one notification. The eventID includes
// the transaction status, so a later status for the same transaction is not
// mistaken for a retry.
func WebhookKey(source, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, eventID)
}
