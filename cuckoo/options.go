package cuckoo

import (
	"math/bits"
	"time"

	"github.com/wyfcoding/cuckoo/bitstore"
	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/logging"
	"github.com/wyfcoding/cuckoo/metrics"
	"github.com/wyfcoding/cuckoo/xerrors"
)

const (
	DefaultLoadFactor = 0.955
	DefaultBucketSize = 4
	DefaultBitsPerTag = 16
	DefaultMaxKicks   = 500

	// MaxBitsPerTag 限制指纹宽度，保证 bitsPerTag + log2(bucketCount) 不超过 64。
	MaxBitsPerTag = 32
)

// Options 定义过滤器的容量、编码与运行参数。零值字段在 New 中取默认值。
type Options struct {
	Name             string
	EstimatedMaxKeys uint64
	LoadFactor       float64
	BucketSize       uint
	BitsPerTag       uint
	MaxKicks         int
	// OpTimeout 为单次操作的总时限，0 表示只受调用方 ctx 约束。
	OpTimeout time.Duration
	Hash      HashAlgorithm
	// Seed 参与哈希，多个过滤器共享同一存储时可用于区分编码。
	Seed uint64

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions 返回容纳 maxKeys 个元素的默认参数。
func DefaultOptions(maxKeys uint64) Options {
	return Options{
		Name:             "cuckoo",
		EstimatedMaxKeys: maxKeys,
		LoadFactor:       DefaultLoadFactor,
		BucketSize:       DefaultBucketSize,
		BitsPerTag:       DefaultBitsPerTag,
		MaxKicks:         DefaultMaxKicks,
		Hash:             HashMurmur3,
	}
}

// OptionsFromConfig 由配置文件中的 [filter] 段构造参数。
func OptionsFromConfig(cfg config.FilterConfig) Options {
	return Options{
		Name:             cfg.Name,
		EstimatedMaxKeys: cfg.EstimatedMaxKeys,
		LoadFactor:       cfg.LoadFactor,
		BucketSize:       cfg.BucketSize,
		BitsPerTag:       cfg.BitsPerTag,
		MaxKicks:         cfg.MaxKicks,
		OpTimeout:        cfg.OpTimeout,
		Hash:             HashAlgorithm(cfg.Hash),
		Seed:             cfg.Seed,
	}
}

func (o *Options) applyDefaults() {
	if o.Name == "" {
		o.Name = "cuckoo"
	}
	if o.LoadFactor == 0 {
		o.LoadFactor = DefaultLoadFactor
	}
	if o.BucketSize == 0 {
		o.BucketSize = DefaultBucketSize
	}
	if o.BitsPerTag == 0 {
		o.BitsPerTag = DefaultBitsPerTag
	}
	if o.MaxKicks == 0 {
		o.MaxKicks = DefaultMaxKicks
	}
	if o.Hash == "" {
		o.Hash = HashMurmur3
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// layout 是由 Options 推导出的位空间布局。
type layout struct {
	bucketCount uint64
	indexBits   uint
	tableBits   uint64
	victimWidth uint
}

func (l layout) totalBits() uint64 {
	return l.tableBits + uint64(l.victimWidth)
}

// validate 检查参数并计算布局，store 若实现 bitstore.Bounded 还会校验寻址上限。
func (o *Options) validate(store bitstore.Store) (layout, error) {
	var l layout
	switch {
	case o.EstimatedMaxKeys == 0:
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "estimated max keys must be positive")
	case o.LoadFactor <= 0 || o.LoadFactor >= 1:
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "load factor %v not in (0, 1)", o.LoadFactor)
	case o.BitsPerTag < 1 || o.BitsPerTag > MaxBitsPerTag:
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "bits per tag %d not in [1, %d]", o.BitsPerTag, MaxBitsPerTag)
	case o.MaxKicks < 0:
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "max kicks %d is negative", o.MaxKicks)
	case o.OpTimeout < 0:
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "op timeout %v is negative", o.OpTimeout)
	}
	if _, err := hashFor(o.Hash); err != nil {
		return l, err
	}

	l.bucketCount = BucketsNeeded(o.EstimatedMaxKeys, o.LoadFactor, o.BucketSize)
	l.indexBits = uint(bits.TrailingZeros64(l.bucketCount))
	l.victimWidth = 1 + o.BitsPerTag + l.indexBits
	if l.victimWidth > bitstore.MaxWidth {
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "%d buckets with %d-bit tags exceed 64-bit victim record", l.bucketCount, o.BitsPerTag)
	}

	hi, lo := bits.Mul64(l.bucketCount, uint64(o.BucketSize)*uint64(o.BitsPerTag))
	if hi != 0 || lo+uint64(l.victimWidth) < lo {
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "table of %d buckets overflows bit address space", l.bucketCount)
	}
	l.tableBits = lo

	if b, ok := store.(bitstore.Bounded); ok && b.MaxBits() > 0 && l.totalBits() > b.MaxBits() {
		return l, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "filter needs %d bits, store holds at most %d", l.totalBits(), b.MaxBits())
	}
	return l, nil
}
