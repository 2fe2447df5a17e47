// Package redis 提供带指标埋点的 go-redis 客户端构造。
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/logging"
	"github.com/wyfcoding/cuckoo/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Client 是 redis.Client 的别名，方便业务层直接使用而无需导入原生包
type Client = redis.Client

type hookCollectors struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHookCollectors(m *metrics.Metrics) *hookCollectors {
	if m == nil {
		return nil
	}
	ops := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_ops_total",
			Help: "The total number of redis operations",
		},
		[]string{"addr", "command", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_duration_seconds",
			Help:    "The duration of redis operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"addr", "command"},
	)
	return &hookCollectors{
		ops:      registerOrExisting(m.Registerer(), ops),
		duration: registerOrExisting(m.Registerer(), duration),
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

type metricsHook struct {
	addr string
	c    *hookCollectors
}

func (h *metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), start, err)
		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", start, err)
		return err
	}
}

func (h *metricsHook) observe(command string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	h.c.ops.WithLabelValues(h.addr, command, status).Inc()
	h.c.duration.WithLabelValues(h.addr, command).Observe(time.Since(start).Seconds())
}

// NewClient 使用提供的配置创建一个新的 Redis 客户端。
// 返回一个 *redis.Client 实例、清理函数和连接失败时的错误。m 为空时不挂载指标钩子。
func NewClient(cfg *config.RedisConfig, logger *logging.Logger, m *metrics.Metrics) (*redis.Client, func(), error) {
	if logger == nil {
		logger = logging.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if c := newHookCollectors(m); c != nil {
		client.AddHook(&metricsHook{addr: cfg.Addr, c: c})
	}

	// 创建一个带超时机制的上下文，用于Ping操作。
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis", "addr", client.Options().Addr)

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close Redis client", "error", err)
		}
	}

	return client, cleanup, nil
}
