// Package retry drives repeated role-agent attempts against malformed
// model output. There is no backoff or jitter: the failure mode being
// absorbed is model non-compliance, not transient I/O, so an immediate
// re-ask is as good as a delayed one.
package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/artifex-labs/artifex/internal/events"
)

// ErrExhausted is returned when a bounded policy runs out of attempts
// without a valid result.
var ErrExhausted = errors.New("retry attempts exhausted")

// ErrInvalid marks an attempt whose model output failed validation, as
// opposed to a gateway/transport error. Both count against the policy.
var ErrInvalid = errors.New("invalid model output")

// DefaultMaxAttempts is the bounded ceiling used when a policy does not
// specify one.
const DefaultMaxAttempts = 5

// Policy controls how attempts are repeated.
type Policy struct {
	// MaxAttempts is the bounded ceiling. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// Unbounded disables the ceiling: attempts repeat until a valid
	// result or context cancellation. This reproduces the loop-forever
	// discipline some call sites historically relied on; it is a
	// deliberate opt-in because it trades liveness for completeness.
	Unbounded bool
}

func (p Policy) limit() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Do runs attempt until it succeeds, the policy is exhausted, or ctx is
// cancelled. Every failed attempt emits a warning event on the bus
// (nil-safe); a bounded exhaustion emits an error event and returns
// ErrExhausted wrapping the last attempt error.
func Do[T any](ctx context.Context, p Policy, bus *events.Bus, task, role string, attempt func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for n := 1; p.Unbounded || n <= p.limit(); n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		bus.Publish(events.Info(task, events.SeverityWarning,
			fmt.Sprintf("%s produced invalid output (attempt %d): %v", role, n, err)))
	}

	bus.Publish(events.Info(task, events.SeverityError,
		fmt.Sprintf("%s failed after %d attempts", role, p.limit())))
	return zero, fmt.Errorf("%s: %w: %w", role, ErrExhausted, lastErr)
}
