// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/jllopis/telos/pkg/errors"
)

// WithTimeoutResult executes fn with a timeout boundary, returning both
// result and error. A zero duration disables the boundary. fn runs in its
// own goroutine; there is no pre-emption mid call, only abandonment.
func WithTimeoutResult[T any](ctx context.Context, duration time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if duration == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		// A cancelled parent is not a timeout; only a missed deadline is
		// retryable under the timeout budget.
		if ctx.Err() == context.Canceled {
			return zero, errors.New(errors.KindInternal, "invocation canceled", ctx.Err())
		}
		return zero, errors.New(errors.KindTimeout, "invocation exceeded timeout", ctx.Err()).
			WithContext("timeout", duration.String())
	case res := <-done:
		return res.value, res.err
	}
}
