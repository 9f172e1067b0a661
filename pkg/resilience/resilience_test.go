package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

var errFlaky = errors.New("flaky")

func TestRetry(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), "eventually", fast, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), "always", fast, func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)

	fatal := errors.New("fatal")
	stopOnFatal := fast
	stopOnFatal.RetryIf = func(err error) bool { return errors.Is(err, errFlaky) }
	calls = 0
	err = Retry(context.Background(), "fatal", stopOnFatal, func(context.Context) error {
		calls++
		return fatal
	})
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "cancelled", RetryConfig{MaxAttempts: 5}, func(context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryDefaultsToTransient(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	calls := 0
	err := Retry(context.Background(), "corrupt", fast, func(context.Context) error {
		calls++
		return qerrors.New(qerrors.ErrDatabaseCorrupt, "bad checksum")
	})
	assert.ErrorIs(t, err, qerrors.ErrDatabaseCorrupt)
	assert.Equal(t, 1, calls)
}

func TestTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errFlaky, true},
		{qerrors.New(qerrors.ErrDatabaseLocked, "held"), true},
		{qerrors.Wrap(qerrors.ErrNetwork, errFlaky, "dial"), true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{qerrors.New(qerrors.ErrQueryParser, "syntax"), false},
		{qerrors.New(qerrors.ErrDatabaseVersion, "v9"), false},
		{qerrors.New(qerrors.ErrInvalidArgument, "docid 0"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Transient(tt.err), tt.err.Error())
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, JitterFraction: 0.01}.withDefaults()
	assert.InDelta(t, float64(10*time.Millisecond), float64(cfg.delay(1)), float64(time.Millisecond))
	assert.InDelta(t, float64(20*time.Millisecond), float64(cfg.delay(2)), float64(time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, cfg.delay(10))
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, qerrors.ErrNetworkTimeout)
	assert.Contains(t, err.Error(), "slow")

	err = WithTimeout(context.Background(), time.Second, "failing", func(ctx context.Context) error { return errFlaky })
	assert.Equal(t, errFlaky, err)

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(parent, time.Second, "cancelled", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, qerrors.ErrNetworkTimeout)

	err = WithTimeout(context.Background(), 0, "unbounded", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestCircuitBreaker(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("cache", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	clock := time.Unix(1000, 0)
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	fail := func(context.Context) error { return errFlaky }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(ctx, fail), errFlaky)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errFlaky)
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(ctx, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, qerrors.ErrNetwork)
	assert.Equal(t, uint64(1), cb.Counts().Rejected)

	clock = clock.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("probe", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	clock := time.Unix(1000, 0)
	cb.now = func() time.Time { return clock }
	ctx := context.Background()
	fail := func(context.Context) error { return errFlaky }

	assert.ErrorIs(t, cb.Execute(ctx, fail), errFlaky)
	clock = clock.Add(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errFlaky)

	c := cb.Counts()
	assert.Equal(t, StateOpen, c.State)
	assert.Equal(t, clock, c.OpenedAt)
	assert.ErrorIs(t, cb.Execute(ctx, fail), ErrCircuitOpen)

	cb.Reset()
	assert.Equal(t, Counts{State: StateClosed, Rejected: 1, OpenedAt: clock}, cb.Counts())
}

func TestCircuitBreakerIgnoresPermanentErrors(t *testing.T) {
	cb := NewCircuitBreaker("permanent", CircuitBreakerConfig{FailureThreshold: 1})
	ctx := context.Background()
	bad := qerrors.New(qerrors.ErrInvalidArgument, "bad key")

	for range 3 {
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return bad }), qerrors.ErrInvalidArgument)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	called := false
	err := cb.Execute(cancelled, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, 0, cb.Counts().Failures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(7).String())
}
