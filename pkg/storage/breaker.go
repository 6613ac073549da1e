package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Breaker guards a backend with a circuit breaker. While the breaker is open, calls
// fail immediately with ErrStorageUnavailable instead of piling onto a dead backend.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreaker creates a breaker that trips after threshold consecutive backend failures
// and probes again after openTimeout.
func NewBreaker(name string, threshold uint32, openTimeout time.Duration) *Breaker {
	if threshold == 0 {
		threshold = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Only backend failures count against the breaker.
			return err == nil ||
				errors.Is(err, sql.ErrNoRows) ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				!errors.Is(err, ErrStorageUnavailable)
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Do runs fn through the breaker. fn should wrap backend failures with Unavailable so
// that they are counted; other errors pass through untouched.
func (b *Breaker) Do(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Unavailable(op, err)
	}
	return err
}

// State returns the breaker state name ("closed", "half-open", "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
