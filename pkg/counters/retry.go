package counters

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often an optimistic upsert is retried after losing a race
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryPolicy returns the default policy: 5 attempts starting at 5ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          250 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.BackoffMultiplier <= 1.0 {
		p.BackoffMultiplier = d.BackoffMultiplier
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.BackoffMultiplier
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Do calls op until it succeeds, fails with anything other than a version conflict,
// or the attempt budget runs out. onRetry is called before every retry.
func (p RetryPolicy) Do(ctx context.Context, op func() error, onRetry func(error)) error {
	p = p.withDefaults()

	err := backoff.RetryNotify(func() error {
		err := op()
		if err == nil || errors.Is(err, errConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx), func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(err)
		}
	})

	if errors.Is(err, errConflict) {
		return ErrContentionExceeded
	}
	return err
}
