package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/budget-api/internal/common"
)

// Locker serializes work on a key. fn runs only while the lock is held.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// QuoteKey returns the lock key guarding a single quote.
func QuoteKey(quoteID string) string {
	return "quote:" + quoteID
}

func acquireTimeout(key string, err error) error {
	return fmt.Errorf("lock %s: %w: %w", key, common.ErrUnavailable, err)
}
