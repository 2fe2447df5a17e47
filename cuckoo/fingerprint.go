package cuckoo

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/wyfcoding/cuckoo/xerrors"
)

// HashAlgorithm 选择元素哈希算法。
type HashAlgorithm string

const (
	// HashMurmur3 使用 MurmurHash3 x64 128 位结果的低 64 位（默认）。
	HashMurmur3 HashAlgorithm = "murmur3"
	// HashXXH64 使用 xxHash64。
	HashXXH64 HashAlgorithm = "xxhash64"
)

// mixConstant 是 MurmurHash3 的混淆常量，用于由指纹推导候选桶偏移。
const mixConstant uint64 = 0xc4ceb9fe1a85ec53

type hashFunc func(data []byte, seed uint64) uint64

// 规范化字节之后追加 8 字节小端种子，保证同一过滤器内多次调用结果确定。
func murmur3Hash(data []byte, seed uint64) uint64 {
	var salt [8]byte
	binary.LittleEndian.PutUint64(salt[:], seed)
	h := murmur3.New128()
	_, _ = h.Write(data)
	_, _ = h.Write(salt[:])
	h1, _ := h.Sum128()
	return h1
}

func xxh64Hash(data []byte, seed uint64) uint64 {
	var salt [8]byte
	binary.LittleEndian.PutUint64(salt[:], seed)
	d := xxhash.New()
	_, _ = d.Write(data)
	_, _ = d.Write(salt[:])
	return d.Sum64()
}

func hashFor(alg HashAlgorithm) (hashFunc, error) {
	switch alg {
	case HashMurmur3, "":
		return murmur3Hash, nil
	case HashXXH64:
		return xxh64Hash, nil
	default:
		return nil, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "unknown hash algorithm %q", alg)
	}
}

// fingerprinter 由一次 64 位哈希同时推导桶下标与指纹。
type fingerprinter struct {
	hash       hashFunc
	seed       uint64
	bitsPerTag uint
	indexMask  uint64 // bucketCount - 1
	tagMask    uint64
}

func newFingerprinter(h hashFunc, seed uint64, bitsPerTag uint, bucketCount uint64) fingerprinter {
	return fingerprinter{
		hash:       h,
		seed:       seed,
		bitsPerTag: bitsPerTag,
		indexMask:  bucketCount - 1,
		tagMask:    uint64(1)<<bitsPerTag - 1,
	}
}

// derive 返回元素的主桶下标与指纹。
func (f fingerprinter) derive(item Item) (index, tag uint64, err error) {
	data, err := item.Canonical()
	if err != nil {
		return 0, 0, err
	}
	index, tag = f.split(f.hash(data, f.seed))
	return index, tag, nil
}

// split 用低 bitsPerTag 位作指纹，右移后的高位作桶下标，两者互不重叠。
// 全 0 指纹保留为空槽标记，落到 0 的指纹改记为 1。
func (f fingerprinter) split(h uint64) (index, tag uint64) {
	tag = h & f.tagMask
	if tag == 0 {
		tag = 1
	}
	index = (h >> f.bitsPerTag) & f.indexMask
	return index, tag
}

// altIndex 返回指纹的另一个候选桶，满足 altIndex(altIndex(i, t), t) == i。
// index 始终小于 2^63，异或结果的符号只取决于 tag*mixConstant，
// 因此两次调用要么都取反要么都不取反，自反性得以保持。
func (f fingerprinter) altIndex(index, tag uint64) uint64 {
	x := index ^ (tag * mixConstant)
	if int64(x) < 0 {
		x = ^x
	}
	return x & f.indexMask
}
