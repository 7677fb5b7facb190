package fulfillment

import (
	"math/rand"
	"sync"
	"time"
)

const maxRetryDelay = 24 * time.Hour

// Backoff computes base*2^(attempts-1) plus a random jitter in [0, Jitter).
type Backoff struct {
	Base   time.Duration
	Jitter time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBackoff(base, jitter time.Duration) *Backoff {
	if base <= 0 {
		base = time.Minute
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{Base: base, Jitter: jitter, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Delay is the wait after the given attempt number (1-based) failed.
func (b *Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}
	if b.Jitter > 0 {
		b.mu.Lock()
		delay += time.Duration(b.rnd.Int63n(int64(b.Jitter)))
		b.mu.Unlock()
	}
	return delay
}
