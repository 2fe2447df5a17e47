package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/metrics"
)

var errBackend = errors.New("backend down")

func enabledConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:      true,
		Timeout:      time.Hour,
		MaxRequests:  1,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := NewBreaker(Settings{Name: "store", Config: enabledConfig()}, metrics.NewMetrics("test"))

	for i := 0; i < 3; i++ {
		if _, err := b.Execute(func() (any, error) { return nil, errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	_, err := b.Execute(func() (any, error) { called = true; return nil, nil })
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("open breaker should reject with ErrServiceUnavailable, got %v", err)
	}
	if called {
		t.Errorf("open breaker must not invoke fn")
	}
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	errCaller := errors.New("bad input")
	b := NewBreaker(Settings{
		Name:         "store",
		Config:       enabledConfig(),
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errCaller) },
	}, nil)

	for i := 0; i < 10; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errCaller })
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("caller errors should not trip the breaker, state = %v", b.State())
	}
}

func TestDisabledBreakerPassesThrough(t *testing.T) {
	b := NewBreaker(Settings{Name: "off"}, nil)
	got, err := ExecuteTyped(b, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Errorf("ExecuteTyped = (%d, %v), want (42, nil)", got, err)
	}
}

func TestDynamicBreakerUpdate(t *testing.T) {
	d := NewDynamicBreaker("dyn", config.CircuitBreakerConfig{}, nil, nil)
	for i := 0; i < 5; i++ {
		_, _ = d.Execute(func() (any, error) { return nil, errBackend })
	}
	if _, err := d.Execute(func() (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("disabled dynamic breaker should pass through, got %v", err)
	}

	d.Update(enabledConfig())
	for i := 0; i < 3; i++ {
		_, _ = d.Execute(func() (any, error) { return nil, errBackend })
	}
	if _, err := d.Execute(func() (any, error) { return "ok", nil }); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("updated breaker should be open, got %v", err)
	}
}
