package connection

import (
	"math/rand/v2"
	"time"
)

// backoffDelay returns min(base*2^(attempt-1) + jitter, limit).
func backoffDelay(attempt int, base, limit, jitter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > 30 {
		return limit
	}

	delay := base << shift
	if delay <= 0 || delay > limit {
		return limit
	}

	delay += jitter
	if delay > limit {
		delay = limit
	}
	return delay
}

// uniformJitter returns a jitter source in [0, upper).
func uniformJitter(upper time.Duration) func() time.Duration {
	return func() time.Duration {
		if upper <= 0 {
			return 0
		}
		return rand.N(upper)
	}
}
