package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Exceeded("1.2.3.4"))
	assert.False(t, l.Exceeded("5.6.7.8"))

	now = now.Add(time.Minute)
	assert.False(t, l.Exceeded("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestDisabledRateLimiter(t *testing.T) {
	l := newRateLimiter(0, time.Minute)
	assert.Nil(t, l)
	assert.True(t, l.Allow("x"))
	assert.False(t, l.Exceeded("x"))
	l.Hit("x")
}
