// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"math/rand"
	"time"
)

// backoffDelay computes the delay before the nth retry (n starting at 0):
// min(BaseDelay·2^n, MaxDelay), with optional jitter on top. Delays are
// non-decreasing while below the cap.
func backoffDelay(retry int, policy ExecutionPolicy) time.Duration {
	delay := policy.BaseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	if policy.Jitter > 0 {
		jitterAmount := float64(delay) * policy.Jitter
		jitterRange := 2 * jitterAmount * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) + jitterRange)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
