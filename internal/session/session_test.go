package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T, start time.Time) (*Service, *clock) {
	t.Helper()
	c := &clock{t: start}
	s, err := NewService("test-secret", WithClock(c.Now))
	require.NoError(t, err)
	return s, c
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService("  ")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestValidityWindow(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		advance time.Duration
		valid   bool
	}{
		{"immediately", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), 0, true},
		{"59 minutes from bucket start", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), 59 * time.Minute, true},
		{"59 minutes from bucket end", time.Date(2026, 1, 1, 10, 59, 59, 0, time.UTC), 59 * time.Minute, true},
		{"next bucket", time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC), time.Hour, true},
		{"two buckets later", time.Date(2026, 1, 1, 10, 59, 59, 0, time.UTC), time.Hour + time.Second, false},
		{"far future", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), 5 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newService(t, tt.start)
			token := s.Issue("L1", "owner@acme.test")
			c.Advance(tt.advance)
			assert.Equal(t, tt.valid, s.Validate(token, "L1", "owner@acme.test"))
		})
	}
}

func TestEmailIsNormalized(t *testing.T) {
	s, _ := newService(t, time.Now())
	token := s.Issue("L1", "  Owner@ACME.test ")
	assert.True(t, s.Validate(token, "L1", "owner@acme.test"))
	assert.Equal(t, token, s.Issue("L1", "owner@acme.test"))
}

func TestTokenIsBoundToInputs(t *testing.T) {
	s, _ := newService(t, time.Now())
	token := s.Issue("L1", "owner@acme.test")

	assert.False(t, s.Validate(token, "L2", "owner@acme.test"))
	assert.False(t, s.Validate(token, "L1", "other@acme.test"))

	other, err := NewService("another-secret")
	require.NoError(t, err)
	assert.False(t, other.Validate(token, "L1", "owner@acme.test"))
}

func TestFieldBoundariesDoNotCollide(t *testing.T) {
	s, _ := newService(t, time.Now())
	assert.NotEqual(t, s.Issue("L1a", "b@x.io"), s.Issue("L1", "ab@x.io"))
}

func TestMalformedTokensAreRejected(t *testing.T) {
	s, _ := newService(t, time.Now())
	for _, token := range []string{"", "!!!", "abc", strings.Repeat("A", 200)} {
		assert.False(t, s.Validate(token, "L1", "owner@acme.test"), token)
	}
	assert.False(t, s.Validate(s.Issue("L1", "e@x.io"), "", "e@x.io"))
}

func TestTokenIsURLSafe(t *testing.T) {
	s, _ := newService(t, time.Now())
	token := s.Issue("L1", "owner@acme.test")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")
}
