// Package ratelimit implements keyed sliding-window budgets. A key is the
// pair (client identity, action); every public endpoint consults a Limiter
// before doing any work.
package ratelimit

import (
	"context"
	"time"
)

// Key identifies one budget.
type Key struct {
	Client string
	Action string
}

func (k Key) String() string {
	return k.Action + ":" + k.Client
}

// Policy allows Limit events per sliding Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is satisfied by the in-memory and the Redis backends.
type Limiter interface {
	Allow(ctx context.Context, key Key, policy Policy) (Decision, error)
}
