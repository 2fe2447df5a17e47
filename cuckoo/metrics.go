package cuckoo

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/cuckoo/metrics"
)

// filterMetrics 收集过滤器操作指标，m 为空时全部方法为空操作。
type filterMetrics struct {
	name     string
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	kicks    *prometheus.HistogramVec
	victims  *prometheus.CounterVec
	items    *prometheus.GaugeVec
}

func newFilterMetrics(name string, m *metrics.Metrics) *filterMetrics {
	if m == nil {
		return nil
	}
	reg := m.Registerer()
	return &filterMetrics{
		name: name,
		ops: registerOrExisting(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cuckoo_filter_ops_total",
			Help: "Cuckoo filter operations by outcome",
		}, []string{"filter", "op", "result"})),
		duration: registerOrExisting(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cuckoo_filter_op_duration_seconds",
			Help:    "Cuckoo filter operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"filter", "op"})),
		kicks: registerOrExisting(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cuckoo_filter_kicks",
			Help:    "Relocations performed by a single put",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
		}, []string{"filter"})),
		victims: registerOrExisting(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cuckoo_filter_victim_events_total",
			Help: "Victim slot events (installed, rehomed, rejected)",
		}, []string{"filter", "event"})),
		items: registerOrExisting(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuckoo_filter_items",
			Help: "Items counted by this filter handle",
		}, []string{"filter"})),
	}
}

func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (fm *filterMetrics) observe(op string, start time.Time, result string) {
	if fm == nil {
		return
	}
	fm.ops.WithLabelValues(fm.name, op, result).Inc()
	fm.duration.WithLabelValues(fm.name, op).Observe(time.Since(start).Seconds())
}

func (fm *filterMetrics) observeKicks(n int) {
	if fm == nil {
		return
	}
	fm.kicks.WithLabelValues(fm.name).Observe(float64(n))
}

func (fm *filterMetrics) victimEvent(event string) {
	if fm == nil {
		return
	}
	fm.victims.WithLabelValues(fm.name, event).Inc()
}

func (fm *filterMetrics) setItems(n int64) {
	if fm == nil {
		return
	}
	fm.items.WithLabelValues(fm.name).Set(float64(n))
}
