// Package invoker wraps outbound calls to unreliable external services with
// typed error classification, bounded retries and an optional circuit
// breaker, so every call site shares one survival policy.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call without
// attempting the network.
var ErrCircuitOpen = errors.New("circuit open, call rejected")

// Policy bounds the retry behavior for one invoker.
type Policy struct {
	MaxAttempts uint          // total attempts including the first call
	BaseDelay   time.Duration // first backoff step
	MaxDelay    time.Duration // backoff ceiling
	MaxJitter   time.Duration // random jitter added to each delay
}

// DefaultPolicy matches the retry behavior used for all paid API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// BreakerSettings configures the optional circuit breaker.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before the circuit opens
	RecoveryTimeout  time.Duration // cool-down before a single trial call is allowed
}

// Invoker executes outbound calls under a shared retry policy. Construct one
// per external service and thread it through explicitly; there is no global
// instance.
type Invoker struct {
	policy  Policy
	breaker *gobreaker.CircuitBreaker
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithBreaker adds a circuit breaker. After FailureThreshold consecutive
// failed invocations the circuit opens and calls fail fast with
// ErrCircuitOpen; after RecoveryTimeout one trial call is admitted.
func WithBreaker(settings BreakerSettings) Option {
	return func(inv *Invoker) {
		inv.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: 1, // half-open admits exactly one trial
			Timeout:     settings.RecoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit state change", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
}

// New creates an invoker with the given retry policy.
func New(policy Policy, options ...Option) *Invoker {
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}
	inv := &Invoker{policy: policy}
	for _, opt := range options {
		opt(inv)
	}
	return inv
}

// Invoke runs fn, retrying transient failures with exponential backoff and
// jitter. Rate-limit and auth failures are returned immediately; an
// unclassified failure is retried once and then propagated. The returned
// error is always one of the taxonomy types (or ErrCircuitOpen).
func (inv *Invoker) Invoke(ctx context.Context, fn func(context.Context) error) error {
	if inv.breaker == nil {
		return inv.invoke(ctx, fn)
	}

	_, err := inv.breaker.Execute(func() (interface{}, error) {
		return nil, inv.invoke(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, err)
	}
	return err
}

func (inv *Invoker) invoke(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			err := fn(ctx)
			if err == nil {
				return nil
			}

			classified := Classify(err)
			var unknown *UnknownError
			switch {
			case errors.As(classified, &unknown):
				// Unclassified failures get a single retry.
				if attempt >= 2 {
					return retry.Unrecoverable(classified)
				}
				return classified
			case IsRetryable(classified):
				slog.Debug("retryable call failure", "attempt", attempt, "error", classified)
				return classified
			default:
				return retry.Unrecoverable(classified)
			}
		},
		retry.Context(ctx),
		retry.Attempts(inv.policy.MaxAttempts),
		retry.Delay(inv.policy.BaseDelay),
		retry.MaxDelay(inv.policy.MaxDelay),
		retry.MaxJitter(inv.policy.MaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
}
