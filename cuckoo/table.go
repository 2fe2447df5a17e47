package cuckoo

import (
	"context"
	"math/rand/v2"

	"github.com/wyfcoding/cuckoo/bitstore"
)

// table 是映射到位空间的桶数组：桶 b 的槽 s 占据
// [b*bucketSize*bitsPerTag + s*bitsPerTag, +bitsPerTag) 区间，值 0 表示空槽。
type table struct {
	store       bitstore.Store
	bucketCount uint64
	bucketSize  uint
	bitsPerTag  uint
}

func (t *table) slotRange(bucket uint64, slot uint) bitstore.Range {
	return bitstore.Range{
		Offset: bucket*uint64(t.bucketSize)*uint64(t.bitsPerTag) + uint64(slot)*uint64(t.bitsPerTag),
		Width:  t.bitsPerTag,
	}
}

// slotRanges 依次返回 buckets 中每个桶的全部槽位区间。
func (t *table) slotRanges(buckets ...uint64) []bitstore.Range {
	out := make([]bitstore.Range, 0, len(buckets)*int(t.bucketSize))
	for _, b := range buckets {
		for s := uint(0); s < t.bucketSize; s++ {
			out = append(out, t.slotRange(b, s))
		}
	}
	return out
}

// readRanges 用一次 GetBits 读取多个区间并逐个解码。
func readRanges(ctx context.Context, store bitstore.Store, ranges []bitstore.Range) ([]uint64, error) {
	var offsets []uint64
	for _, r := range ranges {
		offsets = append(offsets, r.Offsets()...)
	}
	bits, err := store.GetBits(ctx, offsets)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(ranges))
	pos := 0
	for i, r := range ranges {
		out[i] = bitstore.Decode(bits[pos : pos+int(r.Width)])
		pos += int(r.Width)
	}
	return out, nil
}

func (t *table) readBucket(ctx context.Context, bucket uint64) ([]uint64, error) {
	return readRanges(ctx, t.store, t.slotRanges(bucket))
}

// insertAt 将 tag 写入 bucket 中第一个空槽并返回槽位。
// 读到的空槽在 CAS 时可能已被并发写入，此时继续尝试后续空槽。
func (t *table) insertAt(ctx context.Context, bucket, tag uint64) (uint, bool, error) {
	slots, err := t.readBucket(ctx, bucket)
	if err != nil {
		return 0, false, err
	}
	for s, v := range slots {
		if v != 0 {
			continue
		}
		ok, err := t.store.CompareAndSwap(ctx, t.slotRange(bucket, uint(s)), 0, tag)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return uint(s), true, nil
		}
	}
	return 0, false, nil
}

// swapSlot 仅当槽位仍为 old 时写入 new。
func (t *table) swapSlot(ctx context.Context, bucket uint64, slot uint, old, new uint64) (bool, error) {
	return t.store.CompareAndSwap(ctx, t.slotRange(bucket, slot), old, new)
}

func (t *table) randomSlot() uint {
	return uint(rand.IntN(int(t.bucketSize)))
}
