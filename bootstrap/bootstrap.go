// Package bootstrap 按配置装配过滤器运行所需的基础设施：日志、指标、位存储、熔断与重试。
package bootstrap

import (
	"fmt"

	"github.com/wyfcoding/cuckoo/bitstore"
	"github.com/wyfcoding/cuckoo/breaker"
	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/cuckoo"
	"github.com/wyfcoding/cuckoo/logging"
	"github.com/wyfcoding/cuckoo/metrics"
	"github.com/wyfcoding/cuckoo/redis"
	"github.com/wyfcoding/cuckoo/retry"
)

// Bootstrapper 处理通用基础设施的初始化
type Bootstrapper struct {
	ServiceName string
	Version     string
	Logger      *logging.Logger
}

// App 持有装配完成的组件，Close 按创建的逆序释放资源。
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Breaker *breaker.DynamicBreaker
	Store   bitstore.Store
	Filter  *cuckoo.Filter

	cleanups []func()
}

// New 创建一个新的引导器实例
func New(serviceName, version string) *Bootstrapper {
	return &Bootstrapper{
		ServiceName: serviceName,
		Version:     version,
	}
}

// LoadConfig 读取 TOML 配置。watch 为 true 时开启文件监听与热更新。
func (b *Bootstrapper) LoadConfig(path string, watch bool) (*config.Config, error) {
	// 临时 Logger，记录配置加载过程中的错误
	logging.InitLogger(b.ServiceName, "bootstrap")
	b.Logger = logging.Default()

	cfg := new(config.Config)
	load := config.LoadFile
	if watch {
		load = config.Load
	}
	if err := load(path, cfg); err != nil {
		b.Logger.Error("failed to load config", "path", path, "error", err)
		return nil, err
	}
	return cfg, nil
}

// Build 依据配置装配 App。任一步骤失败时已创建的资源会被释放。
func (b *Bootstrapper) Build(cfg *config.Config) (app *App, err error) {
	logger := logging.NewFromConfig(logging.Config{
		Service:    b.ServiceName,
		Module:     "bootstrap",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	logging.SetDefault(logger)
	b.Logger = logger

	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Metrics = metrics.NewMetrics(b.ServiceName)
	app.Metrics.RegisterBuildInfo(b.ServiceName, b.Version)
	if cfg.Metrics.Enabled {
		app.cleanups = append(app.cleanups, app.Metrics.ExposeHttp(cfg.Metrics.Port, cfg.Metrics.Path))
	}

	inner, err := b.newStore(app, cfg)
	if err != nil {
		return app, err
	}

	app.Breaker = breaker.NewDynamicBreaker("bitstore", cfg.CircuitBreaker, bitstore.IsCallerError, app.Metrics)
	config.RegisterReloadHook(func(c *config.Config) {
		app.Breaker.Update(c.CircuitBreaker)
		logger.Info("circuit breaker settings reloaded", "enabled", c.CircuitBreaker.Enabled)
	})

	app.Store = bitstore.NewResilient(inner, app.Breaker, retryConfig(cfg.Retry), logger.Named("bitstore").Logger)

	opts := cuckoo.OptionsFromConfig(cfg.Filter)
	opts.Logger = logger
	opts.Metrics = app.Metrics
	app.Filter, err = cuckoo.New(app.Store, opts)
	if err != nil {
		return app, err
	}
	return app, nil
}

func (b *Bootstrapper) newStore(app *App, cfg *config.Config) (bitstore.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		b.Logger.Warn("using in-process bit store, filter state is not shared")
		return bitstore.NewMemoryStore(), nil
	case "redis":
		client, cleanup, err := redis.NewClient(&cfg.Data.Redis, b.Logger.Named("redis"), app.Metrics)
		if err != nil {
			return nil, err
		}
		app.cleanups = append(app.cleanups, cleanup)
		return bitstore.NewRedisStore(client, cfg.Store.Key), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func retryConfig(c config.RetryConfig) retry.Config {
	return retry.Config{
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		Multiplier:     c.Multiplier,
		Jitter:         c.Jitter,
		MaxRetries:     c.MaxRetries,
	}
}

// Close 释放 App 持有的资源。
func (a *App) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}
