package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/node-storage/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Do(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	errTransient := errors.New("connection reset")
	errBadInput := errors.New("bad input")

	tests := []struct {
		name          string
		failures      int
		permanent     bool
		expectedCalls int
		expectedErr   error
	}{
		{name: "succeeds immediately", failures: 0, expectedCalls: 1},
		{name: "succeeds on last attempt", failures: 2, expectedCalls: 3},
		{name: "exhausted", failures: 10, expectedCalls: 3, expectedErr: interfaces.ErrConnectionFailed},
		{name: "permanent error is not retried", failures: 10, permanent: true, expectedCalls: 1, expectedErr: errBadInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
			calls := 0

			err := policy.Do(context.Background(), logger, "test", func(ctx context.Context) error {
				calls++
				if calls > tt.failures {
					return nil
				}
				if tt.permanent {
					return Permanent(errBadInput)
				}
				return errTransient
			})

			assert.Equal(t, tt.expectedCalls, calls)
			if tt.expectedErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestRetryPolicy_ExhaustionWrapsLastError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	lastErr := errors.New("last")

	calls := 0
	err := policy.Do(context.Background(), logger, "test", func(ctx context.Context) error {
		calls++
		if calls == 2 {
			return lastErr
		}
		return errors.New("first")
	})

	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
	assert.ErrorIs(t, err, lastErr)
}

func TestRetryPolicy_BackoffDoubles(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}

	start := time.Now()
	err := policy.Do(context.Background(), logger, "test", func(ctx context.Context) error {
		return errors.New("down")
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
	// 20ms after the first failure plus 40ms after the second.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestRetryPolicy_ContextCancelsBackoff(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := policy.Do(ctx, logger, "test", func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
