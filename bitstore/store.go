// Package bitstore 定义了布谷鸟过滤器所依赖的线性位空间契约，并提供 Redis 与进程内两种实现。
//
// 位地址从 0 开始连续编址。一个 Range 覆盖 [Offset, Offset+Width) 区间，
// 区间内第 i 位对应整数值的第 i 位（小端位序）。
package bitstore

import (
	"context"
	"strings"

	"github.com/wyfcoding/cuckoo/xerrors"
)

// MaxWidth 是单个 Range 允许的最大位宽。
const MaxWidth = 64

// Range 描述位空间中的一段连续区间。
type Range struct {
	Offset uint64
	Width  uint
}

// End 返回区间末尾（不含）。
func (r Range) End() uint64 {
	return r.Offset + uint64(r.Width)
}

// Offsets 展开区间内的全部位地址。
func (r Range) Offsets() []uint64 {
	out := make([]uint64, r.Width)
	for i := range out {
		out[i] = r.Offset + uint64(i)
	}
	return out
}

// Validate 检查位宽是否合法。
func (r Range) Validate() error {
	if r.Width == 0 || r.Width > MaxWidth {
		return xerrors.Derive(xerrors.ErrBitOutOfRange, nil, "width %d not in [1, %d]", r.Width, MaxWidth)
	}
	if r.End() < r.Offset {
		return xerrors.Derive(xerrors.ErrBitOutOfRange, nil, "range at %d overflows", r.Offset)
	}
	return nil
}

// Store 是位空间后端契约。
//
// GetBits/SetBits 为批量读写，一次调用即一次往返。GetBits 必须返回一致快照：
// 同一批次内的位不能一部分来自某次写入之前、另一部分来自之后。
// CompareAndSwap 对单个 Range 的读改写必须是原子的。
type Store interface {
	// GetBits 批量读取位值，返回切片与 offsets 一一对应。
	GetBits(ctx context.Context, offsets []uint64) ([]bool, error)
	// SetBits 将 offsets 上的位统一置为 value。
	SetBits(ctx context.Context, offsets []uint64, value bool) error
	// CompareAndSwap 当区间当前值等于 old 时写入 new，返回是否写入。
	CompareAndSwap(ctx context.Context, r Range, old, new uint64) (bool, error)
	// Clear 清空整个位空间。
	Clear(ctx context.Context) error
}

// Bounded 由存在寻址上限的后端实现，例如 Redis 单个字符串最多 2^32 位。
type Bounded interface {
	MaxBits() uint64
}

// Decode 将小端位序的位向量解释为整数。
func Decode(bits []bool) uint64 {
	var v uint64
	for i, b := range bits {
		if b {
			v |= 1 << uint(i)
		}
	}
	return v
}

// Encode 将整数的低 width 位展开为小端位序的位向量。
func Encode(v uint64, width uint) []bool {
	out := make([]bool, width)
	for i := range out {
		out[i] = v&(1<<uint(i)) != 0
	}
	return out
}

// mask 返回低 width 位全为 1 的掩码。
func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<width - 1
}

// bitString 以 "0"/"1" 字符串表示低 width 位，第 i 个字符对应第 i 位。
func bitString(v uint64, width uint) string {
	var sb strings.Builder
	sb.Grow(int(width))
	for i := uint(0); i < width; i++ {
		if v&(1<<i) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// parseBitString 是 bitString 的逆运算。
func parseBitString(s string) (uint64, error) {
	if len(s) > MaxWidth {
		return 0, xerrors.Derive(xerrors.ErrBitOutOfRange, nil, "bit string of %d chars", len(s))
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '1':
			v |= 1 << uint(i)
		case '0':
		default:
			return 0, xerrors.Internal("malformed bit string from store", nil).WithDetail("%q", s)
		}
	}
	return v, nil
}
