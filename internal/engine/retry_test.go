package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay_Sequence(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 2*time.Second, backoffDelay(0, policy.BaseDelay, policy.MaxDelay))
	assert.Equal(t, 4*time.Second, backoffDelay(1, policy.BaseDelay, policy.MaxDelay))
	assert.Equal(t, 8*time.Second, backoffDelay(2, policy.BaseDelay, policy.MaxDelay))
}

func TestBackoffDelay_Cap(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 30*time.Second, backoffDelay(4, policy.BaseDelay, policy.MaxDelay))
	assert.Equal(t, 30*time.Second, backoffDelay(10, policy.BaseDelay, policy.MaxDelay))
}

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithBackoff_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("throttled"))
		}
		return nil
	}, IsTransient)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_PermanentNoRetry(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		calls++
		return NewPermanentError(errors.New("bad request"))
	}, IsTransient)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		calls++
		return NewTransientError(errors.New("still down"))
	}, IsTransient)

	require.Error(t, err)
	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")

	var ae *ActionError
	assert.ErrorAs(t, err, &ae)
}

func TestRetryWithBackoff_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := &RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- RetryWithBackoff(ctx, policy, func() error {
			calls++
			return NewTransientError(errors.New("flaky"))
		}, IsTransient)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryWithBackoff_NilPolicyUsesDefault(t *testing.T) {
	err := RetryWithBackoff(context.Background(), nil, func() error { return nil }, IsTransient)
	require.NoError(t, err)
}
