package breaker

import (
	"sync/atomic"

	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/metrics"
)

// DynamicBreaker 提供支持热更新的熔断器封装。
type DynamicBreaker struct {
	value        atomic.Pointer[Breaker]
	name         string
	isSuccessful func(error) bool
	metrics      *metrics.Metrics
}

// NewDynamicBreaker 创建动态熔断器并按初始配置构建内部熔断器。
func NewDynamicBreaker(name string, cfg config.CircuitBreakerConfig, isSuccessful func(error) bool, m *metrics.Metrics) *DynamicBreaker {
	d := &DynamicBreaker{
		name:         name,
		isSuccessful: isSuccessful,
		metrics:      m,
	}
	d.Update(cfg)
	return d
}

// Update 根据最新配置重建熔断器。
func (d *DynamicBreaker) Update(cfg config.CircuitBreakerConfig) {
	if d == nil {
		return
	}
	if !cfg.Enabled {
		d.value.Store(nil)
		return
	}

	d.value.Store(NewBreaker(Settings{
		Name:         d.name,
		Config:       cfg,
		IsSuccessful: d.isSuccessful,
	}, d.metrics))
}

// Execute 执行受熔断保护的函数。
func (d *DynamicBreaker) Execute(fn func() (any, error)) (any, error) {
	if d == nil {
		return fn()
	}
	inner := d.value.Load()
	if inner == nil {
		return fn()
	}
	return inner.Execute(fn)
}
