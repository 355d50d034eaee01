package txq

import (
	"sync"
	"time"
)

// TokenBucket limits airtime in bytes per second. Regional LoRa rules cap
// the transmit duty cycle, so the sequencer asks the bucket before keying up.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64 // tokens per second
	last     time.Time
	nowFn    func() time.Time
}

// NewTokenBucket returns nil when ratePerSec is not positive; a nil bucket
// allows everything.
func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
	if ratePerSec <= 0 {
		return nil
	}
	if capacity <= 0 {
		capacity = ratePerSec
	}
	return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, nowFn: time.Now}
}

// Allow tries to consume n tokens; if not enough, returns how long to wait.
// Requests larger than the capacity are clamped so they can eventually pass.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
	if b == nil {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.capacity {
		n = b.capacity
	}
	now := b.nowFn()
	if b.last.IsZero() {
		b.last = now
	}
	if dt := now.Sub(b.last); dt > 0 {
		add := (b.rate * dt.Nanoseconds()) / int64(time.Second)
		if add > 0 {
			b.tokens += add
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	need := n - b.tokens
	nanos := (need*int64(time.Second) + b.rate - 1) / b.rate
	return false, time.Duration(nanos)
}
