package resilience

import (
	"context"
	"fmt"
	"time"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

// WithTimeout bounds a call to an external dependency. fn gets a context
// cancelled after timeout; if fn ignores it, WithTimeout still returns on
// time and leaves fn running. An expired limit is reported as
// ErrNetworkTimeout wrapping context.DeadlineExceeded, while cancellation
// of the parent is passed through unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", name, ctx.Err())
	case callCtx.Err() == context.DeadlineExceeded:
		return qerrors.Wrap(qerrors.ErrNetworkTimeout, context.DeadlineExceeded,
			fmt.Sprintf("%s exceeded %v", name, timeout))
	default:
		return err
	}
}
