package cuckoo

import (
	"context"

	"github.com/wyfcoding/cuckoo/bitstore"
)

// victim 是踢出循环耗尽后无处安放的指纹，连同其中一个候选桶一起保存。
type victim struct {
	index uint64
	tag   uint64
}

// victimCell 把单个 victim 编码在位空间中紧随桶数组之后的区间：
// 第 0 位为占用标志，随后 bitsPerTag 位为指纹，剩余位为桶下标。
type victimCell struct {
	rng        bitstore.Range
	bitsPerTag uint
}

func newVictimCell(l layout, bitsPerTag uint) victimCell {
	return victimCell{
		rng:        bitstore.Range{Offset: l.tableBits, Width: l.victimWidth},
		bitsPerTag: bitsPerTag,
	}
}

func (c victimCell) encode(v victim) uint64 {
	return 1 | v.tag<<1 | v.index<<(1+c.bitsPerTag)
}

func (c victimCell) decode(raw uint64) (victim, bool) {
	if raw&1 == 0 {
		return victim{}, false
	}
	return victim{
		tag:   (raw >> 1) & (uint64(1)<<c.bitsPerTag - 1),
		index: raw >> (1 + c.bitsPerTag),
	}, true
}

func (c victimCell) load(ctx context.Context, store bitstore.Store) (uint64, error) {
	vals, err := readRanges(ctx, store, []bitstore.Range{c.rng})
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// install 仅在单元为空时写入 v。
func (c victimCell) install(ctx context.Context, store bitstore.Store, v victim) (bool, error) {
	return store.CompareAndSwap(ctx, c.rng, 0, c.encode(v))
}

// take 在单元仍为 raw 时将其清空，返回是否由本次调用取得。
func (c victimCell) take(ctx context.Context, store bitstore.Store, raw uint64) (bool, error) {
	return store.CompareAndSwap(ctx, c.rng, raw, 0)
}

// matches 判断 victim 是否代表候选桶为 i1/i2 的指纹 tag。
func (v victim) matches(tag, i1, i2 uint64) bool {
	return v.tag == tag && (v.index == i1 || v.index == i2)
}
