package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var hooks []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { hooks = append(hooks, attempt) }

	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(hooks) != 2 || hooks[0] != 1 || hooks[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", hooks)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return errTransient
	}, fastConfig(2))
	if !errors.Is(err, errTransient) {
		t.Fatalf("exhausted error should wrap the last failure, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := RetryIf(context.Background(), func() error {
		calls++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) }, fastConfig(5))
	if err != permanent {
		t.Fatalf("permanent error should be returned unwrapped, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(5)
	cfg.InitialBackoff = time.Hour
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }

	err := Retry(ctx, func() error { return errTransient }, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNextIsCapped(t *testing.T) {
	cfg := Config{Multiplier: 10, MaxBackoff: 300 * time.Millisecond}
	if got := Next(100*time.Millisecond, cfg); got != 300*time.Millisecond {
		t.Errorf("Next = %v, want cap 300ms", got)
	}
	cfg = Config{Multiplier: 0.5}
	if got := Next(100*time.Millisecond, cfg); got != 100*time.Millisecond {
		t.Errorf("multiplier below 1 should not shrink backoff, got %v", got)
	}
}
