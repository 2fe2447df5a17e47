package bitstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wyfcoding/cuckoo/breaker"
	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/retry"
	"github.com/wyfcoding/cuckoo/xerrors"
)

var errConnReset = errors.New("connection reset by peer")

// flakyStore 在前 failures 次调用上返回网络错误，其后委托给内存实现。
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) fail() error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errConnReset
	}
	return nil
}

func (f *flakyStore) GetBits(ctx context.Context, offsets []uint64) ([]bool, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.MemoryStore.GetBits(ctx, offsets)
}

func (f *flakyStore) CompareAndSwap(ctx context.Context, r Range, old, new uint64) (bool, error) {
	if err := f.fail(); err != nil {
		return false, err
	}
	return f.MemoryStore.CompareAndSwap(ctx, r, old, new)
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
}

func TestResilientRetriesReads(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	inner.failures.Store(2)
	s := NewResilient(inner, nil, fastRetry(), nil)

	if _, err := s.GetBits(context.Background(), []uint64{1, 2, 3}); err != nil {
		t.Fatalf("GetBits should succeed after retries: %v", err)
	}
	if got := inner.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestResilientEscalatesToUnavailable(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	inner.failures.Store(100)
	s := NewResilient(inner, nil, fastRetry(), nil)

	_, err := s.GetBits(context.Background(), []uint64{1})
	if !errors.Is(err, xerrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, errConnReset) {
		t.Errorf("root cause should be preserved, got %v", err)
	}
}

func TestResilientDoesNotReplayCAS(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	inner.failures.Store(1)
	s := NewResilient(inner, nil, fastRetry(), nil)

	_, err := s.CompareAndSwap(context.Background(), Range{Offset: 0, Width: 8}, 0, 7)
	if !errors.Is(err, xerrors.ErrStoreUnavailable) {
		t.Fatalf("CAS failure should surface immediately, got %v", err)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("CAS must not be retried, calls = %d", got)
	}
}

func TestResilientCallerErrorsPassThrough(t *testing.T) {
	s := NewResilient(NewMemoryStore(), nil, fastRetry(), nil)
	_, err := s.CompareAndSwap(context.Background(), Range{Offset: 0, Width: 0}, 0, 1)
	if !errors.Is(err, xerrors.ErrBitOutOfRange) {
		t.Errorf("invalid range should surface as ErrBitOutOfRange, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetBits(ctx, []uint64{1}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context should surface as context.Canceled, got %v", err)
	}
}

func TestResilientBreakerOpens(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	inner.failures.Store(1000)
	b := breaker.NewBreaker(breaker.Settings{
		Name: "bitstore",
		Config: config.CircuitBreakerConfig{
			Enabled: true, Timeout: time.Hour, MaxRequests: 1, FailureRatio: 0.5, MinRequests: 2,
		},
		IsSuccessful: IsCallerError,
	}, nil)
	s := NewResilient(inner, b, retry.Config{}, nil)

	for i := 0; i < 2; i++ {
		_, _ = s.CompareAndSwap(context.Background(), Range{Offset: 0, Width: 4}, 0, 1)
	}
	before := inner.calls.Load()
	_, err := s.CompareAndSwap(context.Background(), Range{Offset: 0, Width: 4}, 0, 1)
	if !errors.Is(err, xerrors.ErrStoreUnavailable) || !errors.Is(err, breaker.ErrServiceUnavailable) {
		t.Fatalf("open breaker should surface as unavailable, got %v", err)
	}
	if inner.calls.Load() != before {
		t.Errorf("open breaker must short-circuit the store")
	}
	if s.MaxBits() != 0 {
		t.Errorf("memory store is unbounded, MaxBits = %d", s.MaxBits())
	}
}
