package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

// steppedBreaker returns a breaker whose clock only moves via advance.
func steppedBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, func(time.Duration)) {
	cb := NewCircuitBreaker(maxFailures, reset)
	now := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time { return now }
	return cb, func(d time.Duration) { now = now.Add(d) }
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := steppedBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errFail }), errFail)
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not run fn")
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, advance := steppedBreaker(2, time.Second)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	require.Equal(t, StateOpen, cb.CurrentState())

	advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	advance(600 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, advance := steppedBreaker(2, time.Second)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	advance(2 * time.Second)
	cb.Execute(func() error { return errFail })
	assert.Equal(t, StateOpen, cb.CurrentState())

	// The cool-down restarts from the failed probe.
	advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := steppedBreaker(3, time.Second)

	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.Equal(t, 2, cb.Failures())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, advance := steppedBreaker(1, time.Second)
	var transitions []State
	cb.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	cb.Execute(func() error { return errFail })
	assert.Equal(t, []State{StateOpen}, transitions)

	advance(2 * time.Second)
	cb.Execute(func() error { return nil })
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
