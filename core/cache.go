package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores JSON serializable values. Get returns ErrCacheMiss when the key is absent.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// ExperimentConfigCacheKey is the key of the experiment part of the participant configuration.
func ExperimentConfigCacheKey(experimentID int) string {
	return fmt.Sprintf("flare:experiment:%d:config", experimentID)
}
