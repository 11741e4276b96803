package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	// ErrRejected means the token does not name a live session. It is
	// expected control flow, not a failure.
	ErrRejected = errors.New("session rejected")

	// ErrMissingToken is a rejection for a request that carried no token.
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrRejected)

	// ErrStoreUnavailable means the store could not be reached after
	// bounded retries. Callers must not treat it as a rejection.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrNotFound is returned by Store.Get for a missing key.
	ErrNotFound = errors.New("key not found")
)

// Store is the shared key-value session store with per-key expiry.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// Config configures session lookups and lifetimes.
type Config struct {
	KeyPrefix    string        // Prepended to every token
	TTL          time.Duration // Lifetime of a new or extended session
	MaxRetries   int           // Extra lookup attempts on store errors
	RetryBackoff time.Duration // First retry delay, doubled per attempt
	Timeout      time.Duration // Per-call store deadline
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:    "session:",
		TTL:          time.Hour,
		MaxRetries:   2,
		RetryBackoff: 50 * time.Millisecond,
		Timeout:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// maxTokenLen bounds what is sent to the store for a lookup.
const maxTokenLen = 256
