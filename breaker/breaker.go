// Package breaker 提供了基于 gobreaker 的熔断器实现，集成 Prometheus 状态指标与日志。
package breaker

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/metrics"
)

// ErrServiceUnavailable 表示服务当前处于熔断状态。
var ErrServiceUnavailable = errors.New("service unavailable: circuit breaker is open")

// Executor 是受熔断保护的执行器抽象，Breaker 与 DynamicBreaker 均实现它。
type Executor interface {
	Execute(fn func() (any, error)) (any, error)
}

// Breaker 封装了 gobreaker 实例。
type Breaker struct {
	circuitBreaker *gobreaker.CircuitBreaker
	metrics        *prometheus.GaugeVec
}

// Settings 定义了熔断器的初始化参数。
type Settings struct {
	Name   string
	Config config.CircuitBreakerConfig
	// IsSuccessful 判定某个错误是否不计入失败，例如调用方参数错误。
	IsSuccessful func(err error) bool
}

// NewBreaker 初始化并返回一个新的熔断器封装对象。
// 配置未启用时返回直通实现。
func NewBreaker(st Settings, m *metrics.Metrics) *Breaker {
	if !st.Config.Enabled {
		return &Breaker{circuitBreaker: nil}
	}

	failureRatio := st.Config.FailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.5
	}

	minRequests := st.Config.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}

	var metricsVec *prometheus.GaugeVec
	if m != nil {
		metricsVec = stateGauge(m)
	}

	gs := gobreaker.Settings{
		Name:         st.Name,
		MaxRequests:  st.Config.MaxRequests,
		Interval:     st.Config.Interval,
		Timeout:      st.Config.Timeout,
		IsSuccessful: st.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			if metricsVec != nil {
				metricsVec.WithLabelValues(name).Set(float64(to))
			}
		},
	}

	return &Breaker{
		circuitBreaker: gobreaker.NewCircuitBreaker(gs),
		metrics:        metricsVec,
	}
}

// 同一注册表只注册一次状态指标。
func stateGauge(m *metrics.Metrics) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"name"})
	if err := m.Registerer().Register(gv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		slog.Error("register circuit breaker gauge failed", "error", err)
		return nil
	}
	return gv
}

// State 返回当前熔断状态，未启用时恒为 Closed。
func (b *Breaker) State() gobreaker.State {
	if b == nil || b.circuitBreaker == nil {
		return gobreaker.StateClosed
	}
	return b.circuitBreaker.State()
}

// Execute 执行受熔断保护的函数。
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	if b == nil || b.circuitBreaker == nil {
		return fn()
	}

	res, err := b.circuitBreaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrServiceUnavailable
		}

		return nil, err
	}

	return res, nil
}

// ExecuteTyped 是 Execute 的泛型版本，提供更好的类型安全。
func ExecuteTyped[T any](b Executor, fn func() (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn()
	}

	res, err := b.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}

	return res.(T), nil
}
