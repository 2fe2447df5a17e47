package bitstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wyfcoding/cuckoo/breaker"
	"github.com/wyfcoding/cuckoo/retry"
	"github.com/wyfcoding/cuckoo/xerrors"
)

// Resilient 为 Store 增加熔断与退避重试，并把后端故障统一归类为 ErrStoreUnavailable。
//
// 只有幂等调用（GetBits、SetBits、Clear）会重试。CompareAndSwap 丢失响应时
// 无法判断服务端是否已经执行，重放会误判成功与否，因此只经过熔断器、不重试。
type Resilient struct {
	inner   Store
	breaker breaker.Executor
	retry   retry.Config
	logger  *slog.Logger
}

// NewResilient 包装 inner。b 可为 nil，表示不启用熔断。
func NewResilient(inner Store, b breaker.Executor, cfg retry.Config, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resilient{inner: inner, breaker: b, retry: cfg, logger: logger}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			r.logger.Warn("bit store call failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}
	}
	return r
}

// MaxBits 透传内部存储的寻址上限。
func (r *Resilient) MaxBits() uint64 {
	if b, ok := r.inner.(Bounded); ok {
		return b.MaxBits()
	}
	return 0
}

// IsCallerError 判定错误是否源自调用方（参数越界或上下文取消），这类错误不计入熔断失败，也不重试。
func IsCallerError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if e, ok := xerrors.FromError(err); ok && e.Type == xerrors.ErrInvalidArg {
		return true
	}
	return false
}

func (r *Resilient) classify(err error) error {
	if err == nil || IsCallerError(err) {
		return err
	}
	if errors.Is(err, xerrors.ErrStoreUnavailable) {
		return err
	}
	return xerrors.Derive(xerrors.ErrStoreUnavailable, err, "")
}

func guarded[T any](r *Resilient, fn func() (T, error)) (T, error) {
	if r.breaker == nil {
		return fn()
	}
	return breaker.ExecuteTyped(r.breaker, fn)
}

func retried[T any](ctx context.Context, r *Resilient, fn func() (T, error)) (T, error) {
	var out T
	err := retry.RetryIf(ctx, func() error {
		v, err := guarded(r, fn)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, func(err error) bool {
		return !IsCallerError(err) && !errors.Is(err, breaker.ErrServiceUnavailable)
	}, r.retry)
	return out, r.classify(err)
}

// GetBits 实现 Store。
func (r *Resilient) GetBits(ctx context.Context, offsets []uint64) ([]bool, error) {
	return retried(ctx, r, func() ([]bool, error) {
		return r.inner.GetBits(ctx, offsets)
	})
}

// SetBits 实现 Store。
func (r *Resilient) SetBits(ctx context.Context, offsets []uint64, value bool) error {
	_, err := retried(ctx, r, func() (struct{}, error) {
		return struct{}{}, r.inner.SetBits(ctx, offsets, value)
	})
	return err
}

// CompareAndSwap 实现 Store。
func (r *Resilient) CompareAndSwap(ctx context.Context, rg Range, old, new uint64) (bool, error) {
	ok, err := guarded(r, func() (bool, error) {
		return r.inner.CompareAndSwap(ctx, rg, old, new)
	})
	return ok, r.classify(err)
}

// Clear 实现 Store。
func (r *Resilient) Clear(ctx context.Context) error {
	_, err := retried(ctx, r, func() (struct{}, error) {
		return struct{}{}, r.inner.Clear(ctx)
	})
	return err
}
