package resilience

import (
	"math/rand/v2"
	"time"
)

const defaultBackoffBase = 100 * time.Millisecond

// Backoff returns base*2^(attempt-1) spread by +/- jitter (a fraction, 0.2 is
// 20%). The exponent is capped so large attempts cannot overflow.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = defaultBackoffBase
	}
	attempt = min(max(attempt, 1), 16)
	d := base << (attempt - 1)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * min(jitter, 1)
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
