package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that opens after two failures
	cb := NewCircuitBreaker("reranker", WithMaxFailures(2))
	boom := stderrors.New("boom")

	// When: two calls fail
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))

	// Then: the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker("reranker",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Second),
		withClock(clock.now),
	)
	require.Error(t, cb.Execute(func() error { return stderrors.New("down") }))
	require.Equal(t, StateOpen, cb.State())

	t.Run("failed probe reopens", func(t *testing.T) {
		clock.advance(11 * time.Second)
		assert.Equal(t, StateHalfOpen, cb.State())

		assert.Error(t, cb.Execute(func() error { return stderrors.New("still down") }))
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clock.advance(11 * time.Second)
		assert.NoError(t, cb.Execute(func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("dense", WithMaxFailures(2))
	boom := stderrors.New("boom")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, cb.State())
}

func TestThrough_NilBreakerCallsDirectly(t *testing.T) {
	got, err := Through(nil, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
