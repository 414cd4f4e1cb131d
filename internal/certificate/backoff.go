package certificate

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"licensetrust/internal/config"
)

// Backoff computes exponential retry delays with ±Jitter randomization.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoff builds the retry policy of the sync engine.
func NewBackoff(cfg config.SyncConfig) *Backoff {
	return &Backoff{
		Base:       cfg.BaseDelay,
		Max:        cfg.MaxDelay,
		Multiplier: cfg.Multiplier,
		Jitter:     0.25,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the wait before retry number attempt (0 based).
func (b *Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		b.mu.Lock()
		f := b.rnd.Float64()
		b.mu.Unlock()
		d *= 1 + b.Jitter*(2*f-1)
	}
	return time.Duration(d)
}
