// Package retry 提供了指数退避重试机制.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Func 定义了可被重试执行的业务函数原型.
type Func func() error

// Config 封装了重试策略的详细控制参数.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	MaxRetries     int
	// OnRetry 在每次进入退避等待前调用，attempt 从 1 开始。
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig 返回一个通用的默认重试配置.
func DefaultRetryConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// Retry 根据配置的策略执行函数 fn.
func Retry(ctx context.Context, fn Func, cfg Config) error {
	return RetryIf(ctx, fn, func(error) bool { return true }, cfg)
}

// RetryIf 仅在 shouldRetry 返回 true 时进行重试.
// 不可重试的错误原样返回；重试耗尽时返回包装了最后一次错误的结果。
func RetryIf(ctx context.Context, fn Func, shouldRetry func(error) bool, cfg Config) error {
	if cfg.MaxRetries <= 0 {
		return fn()
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		backoff = Next(backoff, cfg)
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

// Next 计算下一次的退避时长（乘数放大、叠加抖动、不超过上限）.
func Next(backoff time.Duration, cfg Config) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	nextBackoff := float64(backoff) * multiplier

	if cfg.Jitter > 0 {
		rv := rand.Float64()
		nextBackoff += (rv*2 - 1) * cfg.Jitter * nextBackoff
	}

	next := time.Duration(nextBackoff)
	if cfg.MaxBackoff > 0 {
		next = min(next, cfg.MaxBackoff)
	}
	return max(next, 0)
}
