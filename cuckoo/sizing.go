package cuckoo

import (
	"math"
	"math/bits"
)

// BucketsNeeded 计算容纳 maxKeys 个元素所需的桶数：ceil(maxKeys / loadFactor / bucketSize)
// 向上取整到 2 的幂，使桶下标可以用掩码代替取模且不产生取模偏差。结果至少为 1。
func BucketsNeeded(maxKeys uint64, loadFactor float64, bucketSize uint) uint64 {
	if bucketSize == 0 || loadFactor <= 0 {
		return 1
	}
	needed := math.Ceil((1.0 / loadFactor) * float64(maxKeys) / float64(bucketSize))
	if needed <= 1 {
		return 1
	}
	if needed >= float64(uint64(1)<<63) {
		return uint64(1) << 63
	}
	return nextPow2(uint64(needed))
}

func nextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(n-1)
}

// BitsPerTagForFPRate 返回达到目标误判率 fpRate 所需的指纹位数：
// ceil(log2(1/fpRate + 3) / loadFactor)。
func BitsPerTagForFPRate(fpRate, loadFactor float64) uint {
	if fpRate <= 0 || fpRate >= 1 || loadFactor <= 0 {
		return 0
	}
	return uint(math.Ceil(math.Log2(1/fpRate+3) / loadFactor))
}

// ExpectedFPRate 返回满载时的理论误判率上界 2*bucketSize / 2^bitsPerTag。
func ExpectedFPRate(bucketSize, bitsPerTag uint) float64 {
	return math.Min(1, float64(2*bucketSize)/math.Exp2(float64(bitsPerTag)))
}
