package bitstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/cuckoo/xerrors"
)

// redisMaxBits 是 Redis 单个字符串可寻址的位数上限（512MB）。
const redisMaxBits = uint64(1) << 32

// runGapBytes 内相邻的读请求会合并为一次 GETRANGE。
const runGapBytes = 32

// casRangeLua 在服务端原子地比较并写入一个位区间。
// ARGV[2]/ARGV[3] 是等长的 "0"/"1" 字符串，第 i 个字符对应 offset+i-1 位。
// 返回写入前的位串，调用方据此判断是否写入成功。
const casRangeLua = `
local key = KEYS[1]
local offset = tonumber(ARGV[1])
local expect = ARGV[2]
local value = ARGV[3]
local width = string.len(expect)
local current = {}
for i = 1, width do
	current[i] = tostring(redis.call('GETBIT', key, offset + i - 1))
end
local old = table.concat(current)
if old ~= expect then
	return old
end
for i = 1, width do
	local b = string.sub(value, i, i)
	if b ~= current[i] then
		redis.call('SETBIT', key, offset + i - 1, tonumber(b))
	end
end
return old
`

// RedisStore 基于单个 Redis 字符串键（bitmap）实现位空间。
// 原子读改写通过 Lua 脚本完成，Redis 单线程执行脚本保证了区间级原子性。
type RedisStore struct {
	client    redis.UniversalClient
	key       string
	casScript *redis.Script
}

// NewRedisStore 创建绑定到 key 的位空间。
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{
		client:    client,
		key:       key,
		casScript: redis.NewScript(casRangeLua),
	}
}

// Key 返回位图所在的 Redis 键。
func (s *RedisStore) Key() string {
	return s.key
}

// MaxBits 实现 Bounded。
func (s *RedisStore) MaxBits() uint64 {
	return redisMaxBits
}

func checkOffsets(offsets []uint64) error {
	for _, off := range offsets {
		if off >= redisMaxBits {
			return xerrors.Derive(xerrors.ErrBitOutOfRange, nil, "offset %d beyond redis bitmap limit", off)
		}
	}
	return nil
}

func checkRange(r Range) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.End() > redisMaxBits {
		return xerrors.Derive(xerrors.ErrBitOutOfRange, nil, "range [%d,%d) beyond redis bitmap limit", r.Offset, r.End())
	}
	return nil
}

type byteRun struct {
	start, end uint64 // 闭区间字节下标
}

// byteRuns 将位地址合并成尽量少的字节区间。
func byteRuns(offsets []uint64) []byteRun {
	bytesIdx := make([]uint64, len(offsets))
	for i, off := range offsets {
		bytesIdx[i] = off / 8
	}
	slices.Sort(bytesIdx)
	bytesIdx = slices.Compact(bytesIdx)

	var runs []byteRun
	for _, b := range bytesIdx {
		if n := len(runs); n > 0 && b <= runs[n-1].end+runGapBytes {
			runs[n-1].end = b
			continue
		}
		runs = append(runs, byteRun{start: b, end: b})
	}
	return runs
}

// GetBits 实现 Store：按字节区间合并为若干 GETRANGE，包在一个 MULTI/EXEC 事务里读取，
// 保证批内各区间来自同一时刻。
func (s *RedisStore) GetBits(ctx context.Context, offsets []uint64) ([]bool, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	if err := checkOffsets(offsets); err != nil {
		return nil, err
	}

	runs := byteRuns(offsets)
	pipe := s.client.TxPipeline()
	cmds := make([]*redis.StringCmd, len(runs))
	for i, run := range runs {
		cmds[i] = pipe.GetRange(ctx, s.key, int64(run.start), int64(run.end))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis getrange pipeline: %w", err)
	}

	out := make([]bool, len(offsets))
	for i, off := range offsets {
		b := off / 8
		idx, _ := slices.BinarySearchFunc(runs, b, func(r byteRun, target uint64) int {
			switch {
			case r.end < target:
				return -1
			case r.start > target:
				return 1
			default:
				return 0
			}
		})
		data := cmds[idx].Val()
		pos := b - runs[idx].start
		if pos >= uint64(len(data)) {
			continue // 超出字符串长度的位按 0 处理
		}
		// Redis 位图在字节内按高位优先编址
		out[i] = data[pos]&(0x80>>(off%8)) != 0
	}
	return out, nil
}

// SetBits 实现 Store。
func (s *RedisStore) SetBits(ctx context.Context, offsets []uint64, value bool) error {
	if len(offsets) == 0 {
		return nil
	}
	if err := checkOffsets(offsets); err != nil {
		return err
	}
	bit := 0
	if value {
		bit = 1
	}
	pipe := s.client.TxPipeline()
	for _, off := range offsets {
		pipe.SetBit(ctx, s.key, int64(off), bit)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis setbit pipeline: %w", err)
	}
	return nil
}

// CompareAndSwap 实现 Store。
func (s *RedisStore) CompareAndSwap(ctx context.Context, r Range, old, new uint64) (bool, error) {
	if err := checkRange(r); err != nil {
		return false, err
	}
	expect := bitString(old, r.Width)
	res, err := s.casScript.Run(ctx, s.client, []string{s.key}, r.Offset, expect, bitString(new, r.Width)).Text()
	if err != nil {
		return false, fmt.Errorf("redis cas script: %w", err)
	}
	prev, err := parseBitString(res)
	if err != nil {
		return false, err
	}
	return prev == old&mask(r.Width), nil
}

// Clear 实现 Store。
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
