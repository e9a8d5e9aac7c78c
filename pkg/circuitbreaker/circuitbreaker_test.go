package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failed")

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
		MaxProbes:        2,
	}
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return errDownstream })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return nil })
}

func TestStaysClosedBelowThreshold(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, fail(cb), errDownstream)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpensAtThreshold(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		fail(cb)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestOpenRejectsWithoutCalling(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		fail(cb)
	}

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.False(t, called)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := New(testConfig())
	fail(cb)
	fail(cb)
	require.NoError(t, succeed(cb))
	fail(cb)
	fail(cb)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenClosesAfterEnoughProbes(t *testing.T) {
	cfg := testConfig()
	cb := New(cfg)
	for i := 0; i < 3; i++ {
		fail(cb)
	}

	time.Sleep(cfg.Timeout + 5*time.Millisecond)

	require.NoError(t, succeed(cb))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, succeed(cb))
	assert.Equal(t, StateClosed, cb.State())
}

func TestFailedProbeReopens(t *testing.T) {
	cfg := testConfig()
	cb := New(cfg)
	for i := 0; i < 3; i++ {
		fail(cb)
	}

	time.Sleep(cfg.Timeout + 5*time.Millisecond)

	assert.ErrorIs(t, fail(cb), errDownstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestResetForcesClosed(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		fail(cb)
	}
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, succeed(cb))
}

func TestCancelledContextShortCircuits(t *testing.T) {
	cb := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, StateClosed, cb.State())
}
