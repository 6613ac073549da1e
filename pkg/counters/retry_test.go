package counters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Do(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	boom := errors.New("boom")

	tests := []struct {
		name      string
		failures  int
		failWith  error
		wantErr   error
		wantCalls int
		wantRetry int
	}{
		{name: "first try", failures: 0, wantCalls: 1},
		{name: "conflict then success", failures: 2, failWith: errConflict, wantCalls: 3, wantRetry: 2},
		{name: "budget exhausted", failures: 100, failWith: errConflict, wantErr: ErrContentionExceeded, wantCalls: 5, wantRetry: 4},
		{name: "other errors are not retried", failures: 100, failWith: boom, wantErr: boom, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, retries := 0, 0
			err := policy.Do(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			}, func(error) { retries++ })

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantRetry, retries)
		})
	}
}

func TestRetryPolicy_StopsOnCancel(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 50, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := policy.Do(ctx, func() error {
		calls++
		cancel()
		return errConflict
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultRetryPolicy(), p)
	assert.Equal(t, 5, p.MaxAttempts)
}
