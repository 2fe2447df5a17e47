// Package config 提供了统一的配置加载与管理能力.
// TOML 文件 + APP_ 前缀环境变量覆盖 + 结构体校验 + 文件变更热更新。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/cuckoo/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 全局顶级配置结构.
type Config struct {
	Version        string               `mapstructure:"version"        toml:"version"`
	Filter         FilterConfig         `mapstructure:"filter"         toml:"filter"`
	Store          StoreConfig          `mapstructure:"store"          toml:"store"`
	Data           DataConfig           `mapstructure:"data"           toml:"data"`
	Retry          RetryConfig          `mapstructure:"retry"          toml:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitbreaker" toml:"circuitbreaker"`
	Metrics        MetricsConfig        `mapstructure:"metrics"        toml:"metrics"`
	Log            LogConfig            `mapstructure:"log"            toml:"log"`
}

// FilterConfig 定义布谷鸟过滤器的容量与编码参数.
type FilterConfig struct {
	Name             string        `mapstructure:"name"               toml:"name"               validate:"required"`
	EstimatedMaxKeys uint64        `mapstructure:"estimated_max_keys" toml:"estimated_max_keys" validate:"required,gt=0"`
	LoadFactor       float64       `mapstructure:"load_factor"        toml:"load_factor"        validate:"gt=0,lt=1"`
	BucketSize       uint          `mapstructure:"bucket_size"        toml:"bucket_size"        validate:"gt=0,lte=64"`
	BitsPerTag       uint          `mapstructure:"bits_per_tag"       toml:"bits_per_tag"       validate:"gt=0,lte=32"`
	MaxKicks         int           `mapstructure:"max_kicks"          toml:"max_kicks"          validate:"gt=0"`
	OpTimeout        time.Duration `mapstructure:"op_timeout"         toml:"op_timeout"`
	Hash             string        `mapstructure:"hash"               toml:"hash"               validate:"oneof=murmur3 xxhash64"`
	Seed             uint64        `mapstructure:"seed"               toml:"seed"`
}

// StoreConfig 选择位存储后端.
type StoreConfig struct {
	Driver string `mapstructure:"driver" toml:"driver" validate:"oneof=redis memory"`
	Key    string `mapstructure:"key"    toml:"key"`
}

// DataConfig 汇集了中间件的数据源配置.
type DataConfig struct {
	Redis RedisConfig `mapstructure:"redis" toml:"redis"`
}

// RedisConfig 定义 Redis 连接与池化参数.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"           toml:"addr"`
	Password     string        `mapstructure:"password"       toml:"password"`
	DB           int           `mapstructure:"db"             toml:"db"`
	PoolSize     int           `mapstructure:"pool_size"      toml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" toml:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"   toml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"  toml:"write_timeout"`
}

// RetryConfig 定义位存储瞬时故障的退避重试策略.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"     toml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"     toml:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"      toml:"multiplier"`
	Jitter         float64       `mapstructure:"jitter"          toml:"jitter"`
}

// CircuitBreakerConfig 定义熔断器（gobreaker）的保护策略.
type CircuitBreakerConfig struct {
	Interval     time.Duration `mapstructure:"interval"      toml:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"       toml:"timeout"`
	MaxRequests  uint32        `mapstructure:"max_requests"  toml:"max_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio" toml:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"  toml:"min_requests"`
	Enabled      bool          `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Port    string `mapstructure:"port"    toml:"port"`
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"`       // 日志级别。
	File       string `mapstructure:"file"        toml:"file"`        // 日志文件路径。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`    // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"` // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`     // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`    // 是否启用压缩。
}

// setDefaults 写入过滤器默认参数（负载因子 0.955、每桶 4 槽、16 位指纹）。
func setDefaults(v *viper.Viper) {
	v.SetDefault("filter.name", "cuckoo")
	v.SetDefault("filter.load_factor", 0.955)
	v.SetDefault("filter.bucket_size", 4)
	v.SetDefault("filter.bits_per_tag", 16)
	v.SetDefault("filter.max_kicks", 500)
	v.SetDefault("filter.hash", "murmur3")
	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.key", "cuckoo:bits")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.pool_size", 16)
	v.SetDefault("data.redis.dial_timeout", 5*time.Second)
	v.SetDefault("data.redis.read_timeout", 3*time.Second)
	v.SetDefault("data.redis.write_timeout", 3*time.Second)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff", 50*time.Millisecond)
	v.SetDefault("retry.max_backoff", time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.1)
	v.SetDefault("circuitbreaker.interval", 60*time.Second)
	v.SetDefault("circuitbreaker.timeout", 30*time.Second)
	v.SetDefault("circuitbreaker.max_requests", 1)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
}

var (
	vInstance = viper.New()
	hooksMu   sync.Mutex
	onReload  []func(*Config)
)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	hooksMu.Lock()
	onReload = append(onReload, hook)
	hooksMu.Unlock()
}

// Load 全生产级的配置加载逻辑.
func Load(path string, conf any) error {
	if err := read(vInstance, path, conf); err != nil {
		return err
	}

	validate := validator.New()
	vInstance.WatchConfig()
	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		if unmarshalErr := vInstance.Unmarshal(conf); unmarshalErr != nil {
			slog.Error("reload config unmarshal failed", "error", unmarshalErr)
			return
		}

		// 如果配置中有日志级别，自动更新全局日志级别
		if lvl, ok := logLevelOf(conf); ok {
			logging.SetLevel(lvl)
		}

		if validateErr := validate.Struct(conf); validateErr != nil {
			slog.Error("reload config validation failed", "error", validateErr)
			return
		}
		slog.Info("config hot-reloaded and validated successfully")

		if cfg, ok := conf.(*Config); ok {
			hooksMu.Lock()
			hooks := append([]func(*Config){}, onReload...)
			hooksMu.Unlock()
			for _, hook := range hooks {
				hook(cfg)
			}
		}
	})

	return nil
}

// LoadFile 一次性读取并校验配置，不开启文件监听。
func LoadFile(path string, conf any) error {
	return read(viper.New(), path, conf)
}

func read(v *viper.Viper, path string, conf any) error {
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := validator.New().Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func logLevelOf(conf any) (string, bool) {
	if c, ok := conf.(*Config); ok {
		return c.Log.Level, true
	}
	// 尝试使用反射获取 Log.Level
	val := reflect.ValueOf(conf)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return "", false
	}
	logField := val.FieldByName("Log")
	if !logField.IsValid() || logField.Kind() != reflect.Struct {
		return "", false
	}
	levelField := logField.FieldByName("Level")
	if levelField.IsValid() && levelField.Kind() == reflect.String {
		return levelField.String(), true
	}
	return "", false
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)
		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回底层的 Viper 实例.
func GetViper() *viper.Viper {
	return vInstance
}
