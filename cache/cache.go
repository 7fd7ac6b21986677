package cache

import (
	"context"
	"fmt"
)

// CacheInterface defines the set of methods that need to be implemented to
// be used as a cache storage. The service keeps two kinds of keys here:
// evaluated completion flags and processed-event markers for the queue
// consumers.
type CacheInterface interface {
	Connect(url string) error
	Disconnect() error
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) (interface{}, error)
	Clear(ctx context.Context) error
}

// CompletionFlagKey builds the cache key under which a user's evaluated
// completion state for an instance is stored.
func CompletionFlagKey(instanceID, userID string) string {
	return "completion_" + instanceID + "_" + userID
}

// NewCache creates a new CacheInterface with a Redis backend.
// It connects to the provided address, and returns the cache instance or
// an error if the connection failed.
func NewCache(url string) (CacheInterface, error) {
	c := NewRedisCache() // Currently, the redis cache is hardcoded.
	err := c.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return c, nil
}
